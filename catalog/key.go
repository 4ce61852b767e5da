package catalog

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const maxTitleBytes = 255

var (
	unsafeChars   = regexp.MustCompile(`[?<>\\:*|"\x00-\x1f\x7f]`)
	reservedNames = regexp.MustCompile(`(?i)^(con|prn|aux|nul|com[0-9]|lpt[0-9])(\..*)?$`)
	pathEscaper   = strings.NewReplacer(
		"%", "%25",
		".", "%2E",
		"$", "%24",
		"#", "%23",
		"[", "%5B",
		"]", "%5D",
		"/", "%2F",
	)
)

// Key addresses a record in the catalog store.
type Key struct {
	Service string
	Channel string
	Title   string
}

func NewKey(service string, ch Channel, obs Observation) Key {
	return Key{
		Service: PathSegment(service),
		Channel: PathSegment(ch.Title),
		Title:   NormalizeTitle(obs.Title, obs.ArtistName),
	}
}

func (k Key) Path() string {
	return k.Service + "/" + k.Channel + "/" + k.Title
}

func (k Key) String() string {
	return k.Path()
}

// NormalizeTitle derives the stable record name of a track from its title
// and artist. Inputs that differ only in case, Unicode composition or
// whitespace map to the same name. The result is safe both as a store path
// segment and as a file name, and may be empty.
func NormalizeTitle(title, artist string) string {
	s := norm.NFC.String(title + " " + artist)
	s = strings.Join(strings.Fields(s), " ")
	s = cases.Fold().String(s)
	return truncate(escape(s), maxTitleBytes)
}

// PathSegment makes a service or channel name usable as a single store path
// segment and directory name. Unlike NormalizeTitle it keeps case.
func PathSegment(s string) string {
	return escape(norm.NFC.String(strings.TrimSpace(s)))
}

func escape(s string) string {
	s = unsafeChars.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = pathEscaper.Replace(s)
	s = strings.TrimRight(s, ". ")
	if reservedNames.MatchString(s) {
		s = "_" + s
	}
	return s
}

// truncate cuts s to at most n bytes without splitting a rune or a
// percent-escape.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if i := strings.LastIndexByte(s[:cut], '%'); i >= 0 && cut-i < 3 {
		cut = i
	}
	return strings.TrimRight(s[:cut], " ")
}
