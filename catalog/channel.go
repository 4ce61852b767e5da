package catalog

import (
	"net/url"
	"strconv"
)

const AllCountriesRegion = "all-countries"

// Channel is a configured chart source: a display genre plus the region and
// genre filters sent to the charts endpoint.
type Channel struct {
	ID      string `json:"id"      yaml:"id"`
	Title   string `json:"title"   yaml:"title"`
	Service string `json:"service" yaml:"service"`
	Region  string `json:"region"  yaml:"region,omitempty"`
	Genre   string `json:"genre"   yaml:"genre,omitempty"`
}

// Query renders the charts query parameters for the channel, without the
// client token.
func (c Channel) Query(limit int) url.Values {
	q := url.Values{}
	q.Set("kind", "top")
	q.Set("limit", strconv.Itoa(limit))
	if c.Region != "" && c.Region != AllCountriesRegion {
		q.Set("region", "soundcloud:region:"+c.Region)
	}
	if c.Genre != "" {
		q.Set("genre", "soundcloud:genres:"+c.Genre)
	}
	return q
}
