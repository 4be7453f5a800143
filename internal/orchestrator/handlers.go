package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/tasklane/internal/classifier"
	"github.com/ashita-ai/tasklane/internal/executor"
	"github.com/ashita-ai/tasklane/internal/model"
	"github.com/ashita-ai/tasklane/internal/preferences"
	"github.com/ashita-ai/tasklane/internal/skills"
	"github.com/ashita-ai/tasklane/internal/storage"
)

const (
	maxListedTasks   = 15
	maxLookupClients = 3
	listFetchLimit   = 4
)

// handlers binds every skill to the turn.
func (o *Orchestrator) handlers(t *turn) map[string]executor.Handler {
	return map[string]executor.Handler{
		skills.TaskCreate:         o.handleTaskCreate(t),
		skills.TaskListWeekly:     o.handleTaskList(t),
		skills.SwitchClient:       o.handleSwitchClient(t),
		skills.SetDefaultClient:   o.handleSetDefault(t),
		skills.ClearDefaults:      o.handleClearDefaults(t),
		skills.Help:               o.handleHelp(t),
		skills.ClientLookup:       o.handleClientLookup(t),
		skills.BrandList:          o.handleBrandList(t),
		skills.MappingAudit:       o.handleMappingAudit(t),
		skills.RemediationPreview: o.handleRemediation(t, false),
		skills.RemediationApply:   o.handleRemediation(t, true),
		skills.AssignmentUpsert:   o.handleAssignment(t, true),
		skills.AssignmentRemove:   o.handleAssignment(t, false),
		skills.BrandCreate:        o.handleBrandCreate(t),
		skills.BrandUpdate:        o.handleBrandUpdate(t),
	}
}

// resolveClient picks the request's client: explicit hint, then the pending
// draft's client, then the actor's default, then the session's active
// client. ok=false means the user has been asked to clarify.
func (o *Orchestrator) resolveClient(ctx context.Context, t *turn, hint, pendingID string) (model.Client, bool, error) {
	var preferred string
	if o.deps.Preferences != nil {
		id, err := o.deps.Preferences.DefaultClient(ctx, t.actor.SlackUserID)
		if err != nil {
			o.logger.Warn("orchestrator: default client lookup failed", "slack_user_id", t.actor.SlackUserID, "error", err)
		}
		preferred = id
	}

	value, source := preferences.ResolveClient(hint, pendingID, preferred, t.sess.ActiveClientID)
	switch source {
	case preferences.SourceNone:
		t.say(ctx, "Which client is this for? Say `switch to CLIENT` first, or name the client in your request.")
		return model.Client{}, false, nil
	case preferences.SourceExplicit:
		return o.findOneClient(ctx, t, value)
	}

	c, err := o.deps.Store.GetClient(ctx, value)
	if errors.Is(err, storage.ErrNotFound) {
		t.say(ctx, "I couldn't find your current client any more. Say `switch to CLIENT` to pick one.")
		return model.Client{}, false, nil
	}
	if err != nil {
		t.say(ctx, "Sorry, I couldn't load the client.")
		return model.Client{}, false, fmt.Errorf("get client: %w", err)
	}
	return c, true, nil
}

func (o *Orchestrator) findOneClient(ctx context.Context, t *turn, hint string) (model.Client, bool, error) {
	matches, err := o.deps.Store.FindClients(ctx, hint)
	if err != nil {
		t.say(ctx, "Sorry, I couldn't search clients right now.")
		return model.Client{}, false, fmt.Errorf("find clients: %w", err)
	}
	switch len(matches) {
	case 0:
		t.say(ctx, fmt.Sprintf("I couldn't find a client matching %q.", hint))
		return model.Client{}, false, nil
	case 1:
		return matches[0], true, nil
	default:
		names := make([]string, len(matches))
		for i, c := range matches {
			names[i] = c.Name
		}
		t.say(ctx, fmt.Sprintf("%q matches several clients: %s. Which one?", hint, strings.Join(names, ", ")))
		return model.Client{}, false, nil
	}
}

func (o *Orchestrator) handleTaskList(t *turn) executor.Handler {
	return func(ctx context.Context, call executor.Call) error {
		client, ok, err := o.resolveClient(ctx, t, classifier.SanitizeHint(call.Arg("client_name_hint")), "")
		if err != nil || !ok {
			return err
		}
		all, err := o.deps.Store.ListBrands(ctx, client.ID)
		if err != nil {
			t.say(ctx, "Sorry, I couldn't load the brands for "+client.Name+".")
			return fmt.Errorf("list brands: %w", err)
		}
		var lists []string
		for _, b := range all {
			if b.ListID != "" && !slices.Contains(lists, b.ListID) {
				lists = append(lists, b.ListID)
			}
		}
		if len(lists) == 0 {
			t.say(ctx, client.Name+" has no ClickUp lists mapped yet.")
			return nil
		}

		days, label := taskWindow(call)
		since := o.now().Add(-time.Duration(days) * 24 * time.Hour)
		results := make([][]model.Task, len(lists))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(listFetchLimit)
		for i, listID := range lists {
			g.Go(func() error {
				tasks, err := o.deps.Tasks.GetTasksInListAllPages(gctx, listID, since)
				results[i] = tasks
				return err
			})
		}
		if err := g.Wait(); err != nil {
			t.say(ctx, "Sorry, I couldn't fetch tasks from ClickUp.")
			return fmt.Errorf("list tasks: %w", err)
		}

		var tasks []model.Task
		for _, r := range results {
			tasks = append(tasks, r...)
		}
		t.sess.ActiveClientID, t.sess.ActiveClientName = client.ID, client.Name
		if len(tasks) == 0 {
			t.say(ctx, fmt.Sprintf("No %s tasks were updated %s.", client.Name, label))
			return nil
		}
		slices.SortFunc(tasks, func(a, b model.Task) int { return b.DateUpdated.Compare(a.DateUpdated) })
		lines := []string{fmt.Sprintf("%s tasks updated %s (%d):", client.Name, label, len(tasks))}
		for i, tk := range tasks {
			if i == maxListedTasks {
				lines = append(lines, fmt.Sprintf("…and %d more", len(tasks)-maxListedTasks))
				break
			}
			line := "• " + tk.Name
			if tk.Status != "" {
				line += " [" + tk.Status + "]"
			}
			if tk.URL != "" {
				line += " " + tk.URL
			}
			lines = append(lines, line)
		}
		t.say(ctx, strings.Join(lines, "\n"))
		return nil
	}
}

// taskWindow reads the window arguments. Out-of-range day counts fall back
// to a week.
func taskWindow(call executor.Call) (int, string) {
	switch call.Arg("window") {
	case classifier.WindowMonth:
		return 30, "this month"
	case classifier.WindowDays:
		if n := call.IntArg("days", 7); n >= 1 && n <= 365 {
			return n, fmt.Sprintf("in the last %d days", n)
		}
	}
	return 7, "this week"
}

func (o *Orchestrator) handleSwitchClient(t *turn) executor.Handler {
	return func(ctx context.Context, call executor.Call) error {
		c, ok, err := o.findOneClient(ctx, t, classifier.SanitizeHint(call.Arg("client_name_hint")))
		if err != nil || !ok {
			return err
		}
		t.sess.ActiveClientID, t.sess.ActiveClientName = c.ID, c.Name
		t.say(ctx, "Now working on "+c.Name+".")
		return nil
	}
}

func (o *Orchestrator) handleSetDefault(t *turn) executor.Handler {
	return func(ctx context.Context, call executor.Call) error {
		c, ok, err := o.findOneClient(ctx, t, classifier.SanitizeHint(call.Arg("client_name_hint")))
		if err != nil || !ok {
			return err
		}
		if err := o.deps.Preferences.SetDefault(ctx, t.actor.SlackUserID, c.ID); err != nil {
			t.say(ctx, "Sorry, I couldn't save your default client.")
			return err
		}
		t.say(ctx, c.Name+" is now your default client.")
		return nil
	}
}

func (o *Orchestrator) handleClearDefaults(t *turn) executor.Handler {
	return func(ctx context.Context, _ executor.Call) error {
		if err := o.deps.Preferences.Clear(ctx, t.actor.SlackUserID); err != nil {
			t.say(ctx, "Sorry, I couldn't clear your defaults.")
			return err
		}
		t.say(ctx, "Your default client has been cleared.")
		return nil
	}
}

const helpText = `Here's what I can do:
• ` + "`create task for CLIENT: TITLE`" + ` files a ClickUp task
• ` + "`tasks for CLIENT`" + ` lists this week's tasks (also ` + "`this month`" + ` or ` + "`last N days`" + `)
• ` + "`switch to CLIENT`" + ` sets the client for this conversation
• ` + "`set my default client to CLIENT`" + ` / ` + "`clear my defaults`" + `
• ` + "`list brands for CLIENT`" + `, ` + "`who works on CLIENT`" + `
• ` + "`assign PERSON as ROLE on CLIENT`" + `, ` + "`create brand NAME for CLIENT`"

func (o *Orchestrator) handleHelp(t *turn) executor.Handler {
	return func(ctx context.Context, _ executor.Call) error {
		t.say(ctx, helpText)
		return nil
	}
}

func (o *Orchestrator) handleClientLookup(t *turn) executor.Handler {
	return func(ctx context.Context, call executor.Call) error {
		var clients []model.Client
		if q := classifier.SanitizeHint(call.Arg("query")); q != "" {
			found, err := o.deps.Store.FindClients(ctx, q)
			if err != nil {
				t.say(ctx, "Sorry, I couldn't search clients right now.")
				return fmt.Errorf("find clients: %w", err)
			}
			if len(found) == 0 {
				t.say(ctx, fmt.Sprintf("No client matches %q.", q))
				return nil
			}
			clients = found
		} else {
			c, ok, err := o.resolveClient(ctx, t, "", "")
			if err != nil || !ok {
				return err
			}
			clients = []model.Client{c}
		}

		var blocks []string
		for i, c := range clients {
			if i == maxLookupClients {
				blocks = append(blocks, fmt.Sprintf("…and %d more matches", len(clients)-maxLookupClients))
				break
			}
			block, err := o.describeClient(ctx, c)
			if err != nil {
				t.say(ctx, "Sorry, I couldn't load details for "+c.Name+".")
				return err
			}
			blocks = append(blocks, block)
		}
		t.say(ctx, strings.Join(blocks, "\n\n"))
		return nil
	}
}

func (o *Orchestrator) describeClient(ctx context.Context, c model.Client) (string, error) {
	g, gctx := errgroup.WithContext(ctx)
	var (
		all         []model.Brand
		assignments []model.Assignment
	)
	g.Go(func() error {
		var err error
		all, err = o.deps.Store.ListBrands(gctx, c.ID)
		return err
	})
	g.Go(func() error {
		var err error
		assignments, err = o.deps.Store.ListAssignments(gctx, c.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("describe client %s: %w", c.ID, err)
	}

	mapped := 0
	for _, b := range all {
		if b.Mapped() {
			mapped++
		}
	}
	lines := []string{fmt.Sprintf("*%s*: %d brands (%d mapped)", c.Name, len(all), mapped)}
	if len(assignments) == 0 {
		lines = append(lines, "No team assigned.")
	}
	for _, a := range assignments {
		lines = append(lines, fmt.Sprintf("• %s: %s", a.Role, a.ProfileName))
	}
	return strings.Join(lines, "\n"), nil
}

func (o *Orchestrator) handleBrandList(t *turn) executor.Handler {
	return func(ctx context.Context, call executor.Call) error {
		client, ok, err := o.resolveClient(ctx, t, classifier.SanitizeHint(call.Arg("client_name_hint")), "")
		if err != nil || !ok {
			return err
		}
		all, err := o.deps.Store.ListBrands(ctx, client.ID)
		if err != nil {
			t.say(ctx, "Sorry, I couldn't load the brands for "+client.Name+".")
			return fmt.Errorf("list brands: %w", err)
		}
		if len(all) == 0 {
			t.say(ctx, client.Name+" has no brands yet.")
			return nil
		}
		lines := []string{fmt.Sprintf("%s brands:", client.Name)}
		for _, b := range all {
			lines = append(lines, "• "+b.Name+" "+mappingLabel(b))
		}
		t.say(ctx, strings.Join(lines, "\n"))
		return nil
	}
}

func mappingLabel(b model.Brand) string {
	switch {
	case b.ListID != "":
		return "(list " + b.ListID + ")"
	case b.SpaceID != "":
		return "(space " + b.SpaceID + ", no list)"
	default:
		return "(unmapped)"
	}
}

func (o *Orchestrator) handleMappingAudit(t *turn) executor.Handler {
	return func(ctx context.Context, _ executor.Call) error {
		var (
			all     []model.Brand
			clients []model.Client
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			all, err = o.deps.Store.ListAllBrands(gctx)
			return err
		})
		g.Go(func() error {
			var err error
			clients, err = o.deps.Store.ListClients(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			t.say(ctx, "Sorry, I couldn't load the brand mapping.")
			return fmt.Errorf("mapping audit: %w", err)
		}
		t.say(ctx, AuditMapping(all, clients))
		return nil
	}
}

// AuditMapping reports unmapped brands per client and destinations shared by
// brands of different clients.
func AuditMapping(all []model.Brand, clients []model.Client) string {
	names := make(map[string]string, len(clients))
	for _, c := range clients {
		names[c.ID] = c.Name
	}
	nameOf := func(id string) string { return cmp.Or(names[id], id) }

	unmapped := map[string][]string{}
	owners := map[model.DestinationKey]map[string]bool{}
	for _, b := range all {
		if !b.Mapped() {
			unmapped[b.ClientID] = append(unmapped[b.ClientID], b.Name)
			continue
		}
		if owners[b.Key()] == nil {
			owners[b.Key()] = map[string]bool{}
		}
		owners[b.Key()][b.ClientID] = true
	}

	lines := []string{fmt.Sprintf("Brand mapping audit: %d brands.", len(all))}
	clientIDs := make([]string, 0, len(unmapped))
	for id := range unmapped {
		clientIDs = append(clientIDs, id)
	}
	slices.SortFunc(clientIDs, func(a, b string) int { return strings.Compare(nameOf(a), nameOf(b)) })
	for _, id := range clientIDs {
		lines = append(lines, fmt.Sprintf("• %s: %d unmapped (%s)", nameOf(id), len(unmapped[id]), strings.Join(unmapped[id], ", ")))
	}

	var shared []string
	for key, set := range owners {
		if len(set) < 2 {
			continue
		}
		var who []string
		for id := range set {
			who = append(who, nameOf(id))
		}
		slices.Sort(who)
		shared = append(shared, fmt.Sprintf("• space %s list %s is shared by %s", cmp.Or(key.SpaceID, "-"), cmp.Or(key.ListID, "-"), strings.Join(who, ", ")))
	}
	slices.Sort(shared)
	lines = append(lines, shared...)

	if len(clientIDs) == 0 && len(shared) == 0 {
		lines = append(lines, "Every brand is mapped and no destination is shared across clients.")
	}
	return strings.Join(lines, "\n")
}

// Proposal pairs an unmapped brand with the registry space it should use.
type Proposal struct {
	Brand model.Brand
	Space model.Space
}

// ProposeRemediation matches unmapped brands to active registry spaces: a
// space already linked to the brand wins, else a unique space with the same
// name. Brands with no unique match are returned as skipped.
func ProposeRemediation(all []model.Brand, spaces []model.Space) (proposals []Proposal, skipped []model.Brand) {
	for _, b := range all {
		if b.Mapped() {
			continue
		}
		var linked, named []model.Space
		for _, s := range spaces {
			if !s.Active || s.Classification == "archive" {
				continue
			}
			if s.BrandID == b.ID {
				linked = append(linked, s)
			} else if s.BrandID == "" && strings.EqualFold(strings.TrimSpace(s.Name), strings.TrimSpace(b.Name)) {
				named = append(named, s)
			}
		}
		switch {
		case len(linked) == 1:
			proposals = append(proposals, Proposal{Brand: b, Space: linked[0]})
		case len(linked) == 0 && len(named) == 1:
			proposals = append(proposals, Proposal{Brand: b, Space: named[0]})
		default:
			skipped = append(skipped, b)
		}
	}
	return proposals, skipped
}

func (o *Orchestrator) handleRemediation(t *turn, apply bool) executor.Handler {
	return func(ctx context.Context, call executor.Call) error {
		var (
			all []model.Brand
			err error
		)
		hint := classifier.SanitizeHint(call.Arg("client_name_hint"))
		scope := "all clients"
		if hint != "" {
			client, ok, err := o.findOneClient(ctx, t, hint)
			if err != nil || !ok {
				return err
			}
			scope = client.Name
			all, err = o.deps.Store.ListBrands(ctx, client.ID)
			if err != nil {
				t.say(ctx, "Sorry, I couldn't load the brands for "+client.Name+".")
				return fmt.Errorf("list brands: %w", err)
			}
		} else if all, err = o.deps.Store.ListAllBrands(ctx); err != nil {
			t.say(ctx, "Sorry, I couldn't load the brands.")
			return fmt.Errorf("list all brands: %w", err)
		}
		spaces, err := o.deps.Store.ListSpaces(ctx)
		if err != nil {
			t.say(ctx, "Sorry, I couldn't load the ClickUp space registry.")
			return fmt.Errorf("list spaces: %w", err)
		}

		proposals, skipped := ProposeRemediation(all, spaces)
		if len(proposals) == 0 {
			msg := "No remediation to propose for " + scope + "."
			if len(skipped) > 0 {
				msg += fmt.Sprintf(" %d unmapped brands have no unique matching space.", len(skipped))
			}
			t.say(ctx, msg)
			return nil
		}

		verb := "Would map"
		if apply {
			verb = "Mapped"
		}
		lines := []string{fmt.Sprintf("Remediation for %s:", scope)}
		var failed int
		for _, p := range proposals {
			line := fmt.Sprintf("• %s %s → space %s (%s)", verb, p.Brand.Name, p.Space.Name, p.Space.SpaceID)
			if apply {
				listID, err := o.applyProposal(ctx, t, p)
				if err != nil {
					failed++
					o.logger.Error("orchestrator: remediation failed", "brand_id", p.Brand.ID, "space_id", p.Space.SpaceID, "error", err)
					lines = append(lines, fmt.Sprintf("• %s: failed", p.Brand.Name))
					continue
				}
				if listID != "" {
					line += ", list " + listID
				} else {
					line += ", no single list yet"
				}
			}
			lines = append(lines, line)
		}
		if len(skipped) > 0 {
			lines = append(lines, fmt.Sprintf("%d unmapped brands have no unique matching space.", len(skipped)))
		}
		if !apply {
			lines = append(lines, "Say `apply remediation"+forClause(hint)+"` to apply.")
		}
		t.say(ctx, strings.Join(lines, "\n"))
		if failed > 0 {
			return fmt.Errorf("remediation: %d of %d updates failed", failed, len(proposals))
		}
		return nil
	}
}

func forClause(hint string) string {
	if hint == "" {
		return ""
	}
	return " for " + hint
}

// applyProposal writes the brand's space and, when the space has a single
// list or one named after the brand, that list too. The write is scoped to
// the brand's client; the space is then linked back to the brand in the
// registry. It returns the list written, if any.
func (o *Orchestrator) applyProposal(ctx context.Context, t *turn, p Proposal) (string, error) {
	listID, err := o.spaceList(ctx, p.Space.SpaceID, p.Brand.Name)
	if err != nil {
		o.logger.Warn("orchestrator: remediation list lookup failed, writing space only", "space_id", p.Space.SpaceID, "error", err)
	}
	if err := o.deps.Store.UpdateBrandDestination(ctx, p.Brand.ClientID, p.Brand.ID, p.Space.SpaceID, listID); err != nil {
		return "", err
	}
	if o.deps.Registry != nil {
		if err := o.deps.Registry.Classify(ctx, p.Space.SpaceID, "brand", p.Brand.ID); err != nil {
			return "", err
		}
	}
	o.audit(ctx, t, EventBrandRemapped, p.Brand.ClientID, map[string]any{
		"brand_id": p.Brand.ID,
		"space_id": p.Space.SpaceID,
		"list_id":  listID,
	})
	return listID, nil
}

func (o *Orchestrator) handleAssignment(t *turn, upsert bool) executor.Handler {
	return func(ctx context.Context, call executor.Call) error {
		person := classifier.SanitizeHint(call.Arg("person"))
		role := strings.ToLower(classifier.SanitizeHint(call.Arg("role")))
		profile, ok, err := o.findOneProfile(ctx, t, person)
		if err != nil || !ok {
			return err
		}
		client, ok, err := o.resolveClient(ctx, t, classifier.SanitizeHint(call.Arg("client_name_hint")), "")
		if err != nil || !ok {
			return err
		}

		a := model.Assignment{ClientID: client.ID, ProfileID: profile.ID, Role: role}
		var changed bool
		if upsert {
			changed, err = o.deps.Store.UpsertAssignment(ctx, a)
		} else {
			changed, err = o.deps.Store.RemoveAssignment(ctx, a)
		}
		if err != nil {
			t.say(ctx, "Sorry, I couldn't update the assignment.")
			return fmt.Errorf("assignment: %w", err)
		}

		switch {
		case upsert && changed:
			o.audit(ctx, t, EventAssignmentChanged, client.ID, map[string]any{"profile_id": profile.ID, "role": role, "op": "upsert"})
			t.say(ctx, fmt.Sprintf("%s is now %s on %s.", profile.Name, role, client.Name))
		case upsert:
			t.say(ctx, fmt.Sprintf("%s was already %s on %s.", profile.Name, role, client.Name))
		case changed:
			o.audit(ctx, t, EventAssignmentChanged, client.ID, map[string]any{"profile_id": profile.ID, "role": role, "op": "remove"})
			t.say(ctx, fmt.Sprintf("%s is no longer %s on %s.", profile.Name, role, client.Name))
		default:
			t.say(ctx, fmt.Sprintf("%s wasn't %s on %s.", profile.Name, role, client.Name))
		}
		return nil
	}
}

func (o *Orchestrator) findOneProfile(ctx context.Context, t *turn, hint string) (model.Profile, bool, error) {
	found, err := o.deps.Store.FindProfiles(ctx, hint)
	if err != nil {
		t.say(ctx, "Sorry, I couldn't search people right now.")
		return model.Profile{}, false, fmt.Errorf("find profiles: %w", err)
	}
	if len(found) > 0 && (strings.EqualFold(found[0].Name, hint) || strings.EqualFold(found[0].Email, hint)) {
		return found[0], true, nil
	}
	switch len(found) {
	case 0:
		t.say(ctx, fmt.Sprintf("I couldn't find anyone matching %q.", hint))
		return model.Profile{}, false, nil
	case 1:
		return found[0], true, nil
	default:
		names := make([]string, len(found))
		for i, p := range found {
			names[i] = p.Name
		}
		t.say(ctx, fmt.Sprintf("%q matches several people: %s. Which one?", hint, strings.Join(names, ", ")))
		return model.Profile{}, false, nil
	}
}

func (o *Orchestrator) handleBrandCreate(t *turn) executor.Handler {
	return func(ctx context.Context, call executor.Call) error {
		name := classifier.SanitizeHint(call.Arg("brand_name"))
		if name == "" {
			t.say(ctx, "What should the brand be called?")
			return nil
		}
		client, ok, err := o.resolveClient(ctx, t, classifier.SanitizeHint(call.Arg("client_name_hint")), "")
		if err != nil || !ok {
			return err
		}
		b, err := o.deps.Store.CreateBrand(ctx, model.Brand{ClientID: client.ID, Name: name})
		if errors.Is(err, storage.ErrConflict) {
			t.say(ctx, fmt.Sprintf("%s already has a brand named %s.", client.Name, name))
			return nil
		}
		if err != nil {
			t.say(ctx, "Sorry, I couldn't create the brand.")
			return fmt.Errorf("create brand: %w", err)
		}
		o.audit(ctx, t, EventBrandCreated, client.ID, map[string]any{"brand_id": b.ID, "name": b.Name})
		t.say(ctx, fmt.Sprintf("Created brand %s for %s. It has no ClickUp destination yet.", b.Name, client.Name))
		return nil
	}
}

func (o *Orchestrator) handleBrandUpdate(t *turn) executor.Handler {
	return func(ctx context.Context, call executor.Call) error {
		name := classifier.SanitizeHint(call.Arg("brand_name"))
		newName := classifier.SanitizeHint(call.Arg("new_name"))
		client, ok, err := o.resolveClient(ctx, t, classifier.SanitizeHint(call.Arg("client_name_hint")), "")
		if err != nil || !ok {
			return err
		}
		all, err := o.deps.Store.ListBrands(ctx, client.ID)
		if err != nil {
			t.say(ctx, "Sorry, I couldn't load the brands for "+client.Name+".")
			return fmt.Errorf("list brands: %w", err)
		}
		b, found := findBrandByName(all, name)
		if !found {
			t.say(ctx, fmt.Sprintf("%s has no brand matching %q.", client.Name, name))
			return nil
		}
		if newName == "" {
			t.say(ctx, fmt.Sprintf("What should %s be renamed to? Say `rename brand %s to NEW NAME`.", b.Name, b.Name))
			return nil
		}
		err = o.deps.Store.RenameBrand(ctx, client.ID, b.ID, newName)
		if errors.Is(err, storage.ErrConflict) {
			t.say(ctx, fmt.Sprintf("%s already has a brand named %s.", client.Name, newName))
			return nil
		}
		if err != nil {
			t.say(ctx, "Sorry, I couldn't rename the brand.")
			return fmt.Errorf("rename brand: %w", err)
		}
		o.audit(ctx, t, EventBrandRenamed, client.ID, map[string]any{"brand_id": b.ID, "from": b.Name, "to": newName})
		t.say(ctx, fmt.Sprintf("Renamed %s to %s.", b.Name, newName))
		return nil
	}
}

// findBrandByName matches case-insensitively, falling back to a unique
// substring match.
func findBrandByName(all []model.Brand, name string) (model.Brand, bool) {
	lower := strings.ToLower(name)
	var partial []model.Brand
	for _, b := range all {
		bn := strings.ToLower(b.Name)
		if bn == lower {
			return b, true
		}
		if lower != "" && strings.Contains(bn, lower) {
			partial = append(partial, b)
		}
	}
	if len(partial) == 1 {
		return partial[0], true
	}
	return model.Brand{}, false
}
