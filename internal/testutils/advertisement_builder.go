package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/lysync/internal/device"
)

// FakeAdvertisement is a static device.Advertisement
type FakeAdvertisement struct {
	Name    string   `json:"name"`
	Address string   `json:"address"`
	UUIDs   []string `json:"services,omitempty"`
}

func (a *FakeAdvertisement) LocalName() string  { return a.Name }
func (a *FakeAdvertisement) Addr() string       { return a.Address }
func (a *FakeAdvertisement) Services() []string { return a.UUIDs }

// AdvertisementBuilder builds fake advertisements for scan tests.
type AdvertisementBuilder struct {
	adv FakeAdvertisement
}

// NewAdvertisementBuilder creates an empty builder
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

// WithServices adds service UUIDs to the advertisement.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.UUIDs = append(b.adv.UUIDs, uuids...)
	return b
}

// FromJSON fills the advertisement from a JSON object
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)
	if err := json.Unmarshal([]byte(jsonStr), &b.adv); err != nil {
		panic(fmt.Sprintf("AdvertisementBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	return b
}

// Build returns the advertisement
func (b *AdvertisementBuilder) Build() device.Advertisement {
	adv := b.adv
	return &adv
}

// Advertisements builds a discovery batch from name/address pairs
func Advertisements(pairs ...string) []device.Advertisement {
	if len(pairs)%2 != 0 {
		panic("Advertisements: expected name/address pairs")
	}
	out := make([]device.Advertisement, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, CreateMockAdvertisement(pairs[i], pairs[i+1]).Build())
	}
	return out
}
