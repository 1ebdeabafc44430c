package submission

import (
	"fmt"
	"strings"
)

// Kind identifies which public form produced a submission.
type Kind string

const (
	KindContact Kind = "contact"
	KindArtist  Kind = "artist"
)

// Notification subjects.
const (
	ContactSubject   = "New Contact — Go Get It The Movement"
	ArtistSubject    = "New Artist Submission — Go Get It The Movement"
	EmailTestSubject = "Email Test — Go Get It The Movement"
	EmailTestBody    = "If you see this, SMTP works."
)

// blank is printed in place of an empty field.
const blank = "-"

// Form is a submitted public form that can be turned into a notification.
type Form interface {
	Kind() Kind
	Subject() string
	Body() string
	Normalize()
}

// Contact is the contact form: all fields are optional except the message.
type Contact struct {
	Name    string `json:"name" validate:"max=200"`
	Email   string `json:"email" validate:"omitempty,email,max=254"`
	Message string `json:"message" validate:"required,max=5000"`
}

// Kind implements Form.
func (c *Contact) Kind() Kind { return KindContact }

// Subject implements Form.
func (c *Contact) Subject() string { return ContactSubject }

// Normalize trims surrounding whitespace from every field.
// POST: No field has leading or trailing whitespace
func (c *Contact) Normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.Message = strings.TrimSpace(c.Message)
}

// Body renders the plain-text notification.
// PRE: Normalize has been called
// POST: Empty fields render as "-"
func (c *Contact) Body() string {
	return fmt.Sprintf("New contact form submission\n\nName: %s\nEmail: %s\nMessage:\n%s\n",
		orBlank(c.Name), orBlank(c.Email), orBlank(c.Message))
}

// Artist is the artist submission form.
type Artist struct {
	Name       string `json:"name" validate:"required,max=200"`
	Email      string `json:"email" validate:"required,email,max=254"`
	ArtistName string `json:"artist_name" validate:"required,max=200"`
	Link       string `json:"link" validate:"omitempty,url,max=500"`
	Genre      string `json:"genre" validate:"max=100"`
	Message    string `json:"message" validate:"max=5000"`
}

// Kind implements Form.
func (a *Artist) Kind() Kind { return KindArtist }

// Subject implements Form.
func (a *Artist) Subject() string { return ArtistSubject }

// Normalize trims surrounding whitespace from every field.
func (a *Artist) Normalize() {
	a.Name = strings.TrimSpace(a.Name)
	a.Email = strings.TrimSpace(a.Email)
	a.ArtistName = strings.TrimSpace(a.ArtistName)
	a.Link = strings.TrimSpace(a.Link)
	a.Genre = strings.TrimSpace(a.Genre)
	a.Message = strings.TrimSpace(a.Message)
}

// Body renders the plain-text notification.
func (a *Artist) Body() string {
	var b strings.Builder
	b.WriteString("New artist submission\n\n")
	fmt.Fprintf(&b, "Name: %s\n", orBlank(a.Name))
	fmt.Fprintf(&b, "Email: %s\n", orBlank(a.Email))
	fmt.Fprintf(&b, "Artist: %s\n", orBlank(a.ArtistName))
	fmt.Fprintf(&b, "Link: %s\n", orBlank(a.Link))
	fmt.Fprintf(&b, "Genre: %s\n", orBlank(a.Genre))
	fmt.Fprintf(&b, "Message:\n%s\n", orBlank(a.Message))
	return b.String()
}

func orBlank(s string) string {
	if s == "" {
		return blank
	}
	return s
}
