package catalog

// Record is the persisted catalog entry of a track. JSON field names are the
// stored schema and must not change.
type Record struct {
	Title     string   `json:"title"`
	Artist    string   `json:"artist"`
	Art       string   `json:"art"`
	UserName  string   `json:"userName"`
	Src       []string `json:"src"`
	PostURL   []string `json:"posturl"`
	Time      []int64  `json:"time"`
	ID        []int64  `json:"id"`
	Hours     int      `json:"hours"`
	MediaLink string   `json:"mediaLink"`
	SelfLink  string   `json:"selfLink"`
	ArtLink   string   `json:"artLink"`
}

// Complete reports whether both assets of the record have been uploaded.
func (r *Record) Complete() bool {
	return nil != r && r.MediaLink != "" && r.ArtLink != ""
}

// Patch holds the record fields a write touches, keyed by their JSON names.
// Stores overlay it onto the stored document so absent fields survive.
type Patch map[string]any

const (
	FieldTitle     = "title"
	FieldArtist    = "artist"
	FieldArt       = "art"
	FieldUserName  = "userName"
	FieldSrc       = "src"
	FieldPostURL   = "posturl"
	FieldTime      = "time"
	FieldID        = "id"
	FieldHours     = "hours"
	FieldMediaLink = "mediaLink"
	FieldSelfLink  = "selfLink"
	FieldArtLink   = "artLink"
)

// FullPatch returns a patch carrying every field of r.
func FullPatch(r Record) Patch {
	return Patch{
		FieldTitle:     r.Title,
		FieldArtist:    r.Artist,
		FieldArt:       r.Art,
		FieldUserName:  r.UserName,
		FieldSrc:       r.Src,
		FieldPostURL:   r.PostURL,
		FieldTime:      r.Time,
		FieldID:        r.ID,
		FieldHours:     r.Hours,
		FieldMediaLink: r.MediaLink,
		FieldSelfLink:  r.SelfLink,
		FieldArtLink:   r.ArtLink,
	}
}

// AssetRef points at an uploaded object.
type AssetRef struct {
	MediaLink string `json:"mediaLink" yaml:"media_link"`
	SelfLink  string `json:"selfLink"  yaml:"self_link"`
}
