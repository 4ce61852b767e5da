package catalog

import "strings"

// Observation is one sighting of a track at the top of a channel's chart.
type Observation struct {
	RemoteID     int64
	Title        string
	ArtistName   string
	Genre        string
	DurationMS   int64
	ArtworkURL   string
	PermalinkURL string
	DownloadURL  string
	UploaderName string
	Album        string
	ReleaseTitle string
}

// LargeArtworkURL upgrades a thumbnail artwork URL to its 500x500 variant.
func LargeArtworkURL(u string) string {
	return strings.Replace(u, "-large.", "-t500x500.", 1)
}
