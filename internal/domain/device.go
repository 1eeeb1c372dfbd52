package domain

// Device describes a discovered MediaRenderer. Name is the identity key.
type Device struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Location string `json:"location"`
}

// HasHost reports whether the device has been seen with a network address.
func (d Device) HasHost() bool {
	return d.Host != ""
}

func (d Device) String() string {
	return d.Name
}
