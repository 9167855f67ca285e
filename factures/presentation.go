package factures

// Action is a manual operation the UI may offer for a facture.
type Action string

const (
	ActionExtract         Action = "extract"
	ActionClassify        Action = "classify"
	ActionGenerateEntries Action = "generate-entries"
	ActionValidate        Action = "validate"
	ActionReject          Action = "reject"
)

// Tone is a coarse colour hint for badges.
type Tone string

const (
	ToneNeutral  Tone = "neutral"
	ToneProgress Tone = "progress"
	ToneSuccess  Tone = "success"
	ToneDanger   Tone = "danger"
)

// Presentation is the display metadata of a status.
type Presentation struct {
	Status   Status   `json:"status"`
	Label    string   `json:"label"`
	Icon     string   `json:"icon"`
	Tone     Tone     `json:"tone"`
	Order    int      `json:"order"`
	Terminal bool     `json:"terminal"`
	Actions  []Action `json:"actions"`
}

var presentations = map[Status]Presentation{
	StatusImported:   {Label: "Importée", Icon: "📥", Tone: ToneProgress, Actions: []Action{ActionExtract}},
	StatusExtracted:  {Label: "Extraite", Icon: "🔍", Tone: ToneProgress, Actions: []Action{ActionClassify, ActionReject}},
	StatusClassified: {Label: "Classifiée", Icon: "🧠", Tone: ToneProgress, Actions: []Action{ActionGenerateEntries, ActionReject}},
	StatusDraft:      {Label: "Brouillon", Icon: "📝", Tone: ToneProgress, Actions: []Action{ActionValidate, ActionReject}},
	StatusValidated:  {Label: "Validée", Icon: "✅", Tone: ToneSuccess},
	StatusExported:   {Label: "Exportée", Icon: "📤", Tone: ToneSuccess},
	StatusError:      {Label: "Erreur", Icon: "❌", Tone: ToneDanger},
}

// Describe maps a status to its presentation. Unknown statuses get a neutral
// badge with no actions.
func Describe(s Status) Presentation {
	p, ok := presentations[s]
	if !ok {
		return Presentation{Status: s, Label: string(s), Icon: "•", Tone: ToneNeutral, Order: -1}
	}
	p.Status = s
	p.Order = s.Order()
	p.Terminal = s.IsTerminal()
	p.Actions = append([]Action(nil), p.Actions...)
	return p
}

// Allows reports whether the action is offered for the status.
func (p Presentation) Allows(a Action) bool {
	for _, candidate := range p.Actions {
		if candidate == a {
			return true
		}
	}
	return false
}
