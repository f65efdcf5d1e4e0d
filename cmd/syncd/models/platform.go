package models

// Platform identifies an external platform integration
type Platform string

const (
	PlatformTicketing Platform = "ticketing"
	PlatformPatronage Platform = "patronage"
	PlatformMailer    Platform = "email-marketing"
	PlatformChat      Platform = "chat"
)

// Valid reports whether p is a recognized platform key
func (p Platform) Valid() bool {
	switch p {
	case PlatformTicketing, PlatformPatronage, PlatformMailer, PlatformChat:
		return true
	}
	return false
}

func (p Platform) String() string {
	return string(p)
}
