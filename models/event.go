package models

type Event struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Venue          string `json:"venue,omitempty"`
	// HypeCardTemplate is the artifact template issued with each ticket; empty disables it.
	HypeCardTemplate string `json:"hype_card_template,omitempty"`
}

func (e *Event) GeneratesHypeCard() bool {
	return e.HypeCardTemplate != ""
}
