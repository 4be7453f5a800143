// Package session holds per-conversation state: the active client, the
// conversation history and the pending action awaiting a follow-up reply.
//
// Pending is a closed tagged union. Transition is the only way a pending
// action changes, and it folds in the freshness check: a pending action whose
// question was asked more than Expiry ago is discarded, never executed.
package session

import (
	"slices"
	"strings"
	"time"

	"github.com/ashita-ai/tasklane/internal/model"
)

// Expiry is how long a pending action stays actionable after its question
// was last asked.
const Expiry = 10 * time.Minute

// Kind names a pending-action variant.
type Kind string

const (
	KindNone             Kind = "none"
	KindConfirmOrDetails Kind = "confirm_or_details"
	KindASINOrPending    Kind = "asin_or_pending"
	KindBrand            Kind = "brand"
)

// Prompt reasons for AwaitingConfirmOrDetails.
const (
	PromptMissingTitle = "missing_title"
	PromptConfirm      = "confirm"
	PromptDuplicate    = "duplicate"
)

// Draft is a task being assembled across turns.
type Draft struct {
	Title              string    `json:"title"`
	Description        string    `json:"description,omitempty"`
	ClientID           string    `json:"client_id,omitempty"`
	ClientName         string    `json:"client_name,omitempty"`
	BrandHint          string    `json:"brand_hint,omitempty"`
	BrandID            string    `json:"brand_id,omitempty"`
	BrandName          string    `json:"brand_name,omitempty"`
	SpaceID            string    `json:"space_id,omitempty"`
	ListID             string    `json:"list_id,omitempty"`
	ASINs              []string  `json:"asins,omitempty"`
	SKUs               []string  `json:"skus,omitempty"`
	IdentifiersPending bool      `json:"identifiers_pending,omitempty"`
	AllowDuplicate     bool      `json:"allow_duplicate,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// HasDestination reports whether a list has been chosen.
func (d Draft) HasDestination() bool { return d.ListID != "" }

// HasIdentifiers reports whether product identifiers were supplied or
// explicitly deferred.
func (d Draft) HasIdentifiers() bool {
	return len(d.ASINs) > 0 || len(d.SKUs) > 0 || d.IdentifiersPending
}

// Pending is one of NoPending, AwaitingConfirmOrDetails,
// AwaitingASINOrPending or AwaitingBrand.
type Pending interface {
	Kind() Kind
	isPending()
}

// NoPending means nothing is awaited.
type NoPending struct{}

// AwaitingConfirmOrDetails waits for a confirmation or more task details.
type AwaitingConfirmOrDetails struct {
	Draft    Draft     `json:"draft"`
	Prompt   string    `json:"prompt"`
	ParkedAt time.Time `json:"parked_at,omitzero"`
}

// AwaitingASINOrPending waits for product identifiers, or for the user to
// create the task with identifiers marked pending.
type AwaitingASINOrPending struct {
	Draft    Draft     `json:"draft"`
	ParkedAt time.Time `json:"parked_at,omitzero"`
}

// AwaitingBrand waits for the user to pick one of Candidates.
type AwaitingBrand struct {
	Draft      Draft         `json:"draft"`
	Candidates []model.Brand `json:"candidates"`
	ParkedAt   time.Time     `json:"parked_at,omitzero"`
}

func (NoPending) Kind() Kind                { return KindNone }
func (AwaitingConfirmOrDetails) Kind() Kind { return KindConfirmOrDetails }
func (AwaitingASINOrPending) Kind() Kind    { return KindASINOrPending }
func (AwaitingBrand) Kind() Kind            { return KindBrand }

func (NoPending) isPending()                {}
func (AwaitingConfirmOrDetails) isPending() {}
func (AwaitingASINOrPending) isPending()    {}
func (AwaitingBrand) isPending()            {}

// DraftOf returns the draft carried by p.
func DraftOf(p Pending) (Draft, bool) {
	switch s := p.(type) {
	case AwaitingConfirmOrDetails:
		return s.Draft, true
	case AwaitingASINOrPending:
		return s.Draft, true
	case AwaitingBrand:
		return s.Draft, true
	default:
		return Draft{}, false
	}
}

// Park stamps p with the time its question is asked. Expiry counts from the
// latest stamp; an unstamped action counts from its draft's CreatedAt.
func Park(p Pending, at time.Time) Pending {
	at = at.UTC()
	switch s := p.(type) {
	case AwaitingConfirmOrDetails:
		s.ParkedAt = at
		return s
	case AwaitingASINOrPending:
		s.ParkedAt = at
		return s
	case AwaitingBrand:
		s.ParkedAt = at
		return s
	}
	return p
}

func parkedAt(p Pending) time.Time {
	var at time.Time
	switch s := p.(type) {
	case AwaitingConfirmOrDetails:
		at = s.ParkedAt
	case AwaitingASINOrPending:
		at = s.ParkedAt
	case AwaitingBrand:
		at = s.ParkedAt
	}
	if at.IsZero() {
		d, _ := DraftOf(p)
		return d.CreatedAt
	}
	return at
}

// Event is a user reply interpreted against a pending action.
type Event interface {
	isEvent()
}

// Confirmed is an explicit go-ahead ("create it anyway").
type Confirmed struct{}

// Cancelled abandons the pending action.
type Cancelled struct{}

// ProvidedDetails is free text that is not a confirmation.
type ProvidedDetails struct{ Text string }

// ProvidedIdentifiers carries ASINs and SKUs found in the reply.
type ProvidedIdentifiers struct{ ASINs, SKUs []string }

// DeferredIdentifiers asks to create now with identifiers pending.
type DeferredIdentifiers struct{}

// ChoseBrand picks a brand by id.
type ChoseBrand struct{ BrandID string }

// Superseded means the reply is an unrelated request.
type Superseded struct{}

func (Confirmed) isEvent()           {}
func (Cancelled) isEvent()           {}
func (ProvidedDetails) isEvent()     {}
func (ProvidedIdentifiers) isEvent() {}
func (DeferredIdentifiers) isEvent() {}
func (ChoseBrand) isEvent()          {}
func (Superseded) isEvent()          {}

// Action tells the caller what to do after a transition.
type Action string

const (
	// ActionNone: there was nothing pending.
	ActionNone Action = "none"
	// ActionExpired: the pending action was too old and was dropped.
	ActionExpired Action = "expired"
	// ActionCancelled: the user abandoned the pending action.
	ActionCancelled Action = "cancelled"
	// ActionSuperseded: the pending action was dropped for a new request.
	ActionSuperseded Action = "superseded"
	// ActionReprompt: the reply did not resolve the pending action; ask again.
	ActionReprompt Action = "reprompt"
	// ActionProceed: continue the task-create flow with Result.Draft.
	ActionProceed Action = "proceed"
)

// Result is the outcome of Transition.
type Result struct {
	Action Action
	Draft  Draft
}

// Transition applies ev to state at time now. A reprompted state comes back
// parked at now.
func Transition(state Pending, ev Event, now time.Time) (Pending, Result) {
	if state == nil || state.Kind() == KindNone {
		return NoPending{}, Result{Action: ActionNone}
	}
	draft, _ := DraftOf(state)
	if now.Sub(parkedAt(state)) > Expiry {
		return NoPending{}, Result{Action: ActionExpired, Draft: draft}
	}

	switch ev.(type) {
	case Cancelled:
		return NoPending{}, Result{Action: ActionCancelled, Draft: draft}
	case Superseded:
		return NoPending{}, Result{Action: ActionSuperseded, Draft: draft}
	}

	var (
		next Pending
		res  Result
	)
	switch s := state.(type) {
	case AwaitingConfirmOrDetails:
		next, res = confirmOrDetails(s, ev)
	case AwaitingASINOrPending:
		next, res = asinOrPending(s, ev)
	case AwaitingBrand:
		next, res = brandPick(s, ev)
	default:
		return NoPending{}, Result{Action: ActionNone}
	}
	if res.Action == ActionReprompt {
		next = Park(next, now)
	}
	return next, res
}

func confirmOrDetails(s AwaitingConfirmOrDetails, ev Event) (Pending, Result) {
	d := s.Draft
	switch e := ev.(type) {
	case Confirmed:
		if d.Title == "" {
			return s, Result{Action: ActionReprompt, Draft: d}
		}
		if s.Prompt == PromptDuplicate {
			d.AllowDuplicate = true
		}
		return NoPending{}, Result{Action: ActionProceed, Draft: d}
	case ProvidedDetails:
		text := strings.TrimSpace(e.Text)
		if text == "" {
			return s, Result{Action: ActionReprompt, Draft: d}
		}
		if d.Title == "" {
			d.Title = text
			return NoPending{}, Result{Action: ActionProceed, Draft: d}
		}
		if d.Description == "" {
			d.Description = text
		} else {
			d.Description += "\n" + text
		}
		s.Draft = d
		return s, Result{Action: ActionReprompt, Draft: d}
	case ProvidedIdentifiers:
		d.ASINs = mergeIDs(d.ASINs, e.ASINs)
		d.SKUs = mergeIDs(d.SKUs, e.SKUs)
		s.Draft = d
		return s, Result{Action: ActionReprompt, Draft: d}
	}
	return s, Result{Action: ActionReprompt, Draft: d}
}

func asinOrPending(s AwaitingASINOrPending, ev Event) (Pending, Result) {
	d := s.Draft
	switch e := ev.(type) {
	case ProvidedIdentifiers:
		if len(e.ASINs) == 0 && len(e.SKUs) == 0 {
			return s, Result{Action: ActionReprompt, Draft: d}
		}
		d.ASINs = mergeIDs(d.ASINs, e.ASINs)
		d.SKUs = mergeIDs(d.SKUs, e.SKUs)
		return NoPending{}, Result{Action: ActionProceed, Draft: d}
	case DeferredIdentifiers, Confirmed:
		d.IdentifiersPending = true
		return NoPending{}, Result{Action: ActionProceed, Draft: d}
	}
	return s, Result{Action: ActionReprompt, Draft: d}
}

func brandPick(s AwaitingBrand, ev Event) (Pending, Result) {
	d := s.Draft
	e, ok := ev.(ChoseBrand)
	if !ok {
		return s, Result{Action: ActionReprompt, Draft: d}
	}
	i := slices.IndexFunc(s.Candidates, func(b model.Brand) bool { return b.ID == e.BrandID })
	if i < 0 {
		return s, Result{Action: ActionReprompt, Draft: d}
	}
	b := s.Candidates[i]
	d.BrandID, d.BrandName = b.ID, b.Name
	d.SpaceID, d.ListID = b.SpaceID, b.ListID
	return NoPending{}, Result{Action: ActionProceed, Draft: d}
}

func mergeIDs(have, add []string) []string {
	for _, id := range add {
		if !slices.Contains(have, id) {
			have = append(have, id)
		}
	}
	return have
}

var cancelPhrases = map[string]bool{
	"cancel":     true,
	"never mind": true,
	"nevermind":  true,
	"stop":       true,
	"no":         true,
	"nope":       true,
	"forget it":  true,
}

var deferPhrases = map[string]bool{
	"pending":        true,
	"asin pending":   true,
	"no asin":        true,
	"later":          true,
	"skip":           true,
	"i'll add later": true,
}

var confirmPhrases = map[string]bool{
	"yes":        true,
	"y":          true,
	"yes please": true,
	"yep":        true,
	"yeah":       true,
	"ok":         true,
	"okay":       true,
	"sure":       true,
	"do it":      true,
}

// IsConfirm reports whether text is a bare affirmative. It only means
// Confirmed while a confirmation is being asked for.
func IsConfirm(text string) bool {
	return confirmPhrases[phrase(text)]
}

// IsCancel reports whether text abandons a pending action.
func IsCancel(text string) bool {
	return cancelPhrases[phrase(text)]
}

// IsDefer reports whether text asks to create with identifiers pending.
func IsDefer(text string) bool {
	return deferPhrases[phrase(text)]
}

func phrase(text string) string {
	t := strings.ToLower(strings.Join(strings.Fields(text), " "))
	return strings.TrimRight(t, "?!.,:;")
}
