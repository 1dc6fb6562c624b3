package models

// EmailDescriptor is one recipient's email in a /send_emails batch.
type EmailDescriptor struct {
	HTML    string `json:"emailHtml"`
	Subject string `json:"emailSubject"`
	To      string `json:"USER_EMAIL" validate:"required,email"`
}

// QueryResponse describes a loaded query in the /queries listing.
type QueryResponse struct {
	Name string            `json:"name"`
	SQL  string            `json:"sql,omitempty"`
	Tags map[string]string `json:"tags,omitempty"`
}

// HTTPResponse represents a container for generic outgoing HTTP responses.
type HTTPResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// SplitDescriptors splits a batch into the three parallel sequences the
// dispatcher consumes, preserving order.
func SplitDescriptors(batch []EmailDescriptor) (bodies, subjects, recipients []string) {
	bodies = make([]string, 0, len(batch))
	subjects = make([]string, 0, len(batch))
	recipients = make([]string, 0, len(batch))
	for _, d := range batch {
		bodies = append(bodies, d.HTML)
		subjects = append(subjects, d.Subject)
		recipients = append(recipients, d.To)
	}

	return bodies, subjects, recipients
}
