package tag

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/bogem/id3v2/v2"
	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/chartd/errutil"
	"github.com/xeptore/chartd/ingest"
	"github.com/xeptore/chartd/must"
)

var (
	ErrArtworkMissing = errors.New("artwork file is missing or empty")
	ErrAudioMissing   = errors.New("audio file is missing or empty")
)

type Meta struct {
	Title       string
	Artist      string
	Album       string
	Genre       string
	ArtworkPath string
}

// Result holds the tags read back from the file after saving.
type Result struct {
	Title      string
	Artist     string
	Album      string
	Genre      string
	CoverMIME  string
	CoverBytes int
}

type Tagger struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Tagger {
	return &Tagger{logger: logger}
}

// Tag embeds meta as ID3v2.4 frames with UTF-8 text and a front cover
// picture into the audio file at audioPath.
func (t *Tagger) Tag(ctx context.Context, audioPath string, meta Meta) (*Result, error) {
	if errutil.IsContext(ctx) {
		return nil, ctx.Err()
	}
	res, err := t.tag(audioPath, meta)
	if nil != err {
		return nil, &ingest.TagError{Path: audioPath, Err: err}
	}
	t.logger.Debug().Str("path", audioPath).Str("title", res.Title).Str("cover_mime", res.CoverMIME).Msg("Audio file tagged")
	return res, nil
}

func (t *Tagger) tag(audioPath string, meta Meta) (*Result, error) {
	if err := requireNonEmpty(audioPath, ErrAudioMissing); nil != err {
		return nil, err
	}
	if meta.ArtworkPath == "" {
		return nil, ErrArtworkMissing
	}
	if err := requireNonEmpty(meta.ArtworkPath, ErrArtworkMissing); nil != err {
		return nil, err
	}

	cover, err := os.ReadFile(meta.ArtworkPath)
	if nil != err {
		flawP := flaw.P{"artwork_path": meta.ArtworkPath, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to read artwork file: %v", err)).Append(flawP)
	}

	if err := write(audioPath, meta, cover); nil != err {
		return nil, err
	}

	return read(audioPath)
}

func requireNonEmpty(path string, sentinel error) error {
	info, err := os.Stat(path)
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return sentinel
		}
		flawP := flaw.P{"path": path, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to stat file: %v", err)).Append(flawP)
	}
	if info.IsDir() || info.Size() == 0 {
		return sentinel
	}
	return nil
}

func write(audioPath string, meta Meta, cover []byte) (err error) {
	tag, err := id3v2.Open(audioPath, id3v2.Options{Parse: true}) //nolint:exhaustruct
	if nil != err {
		flawP := flaw.P{"path": audioPath, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to open audio file for tagging: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := tag.Close(); nil != closeErr {
			flawP := flaw.P{"path": audioPath, "err_debug_tree": errutil.Tree(closeErr).FlawP()}
			closeErr = flaw.From(fmt.Errorf("failed to close tagged audio file: %v", closeErr)).Append(flawP)
			switch {
			case nil == err:
				err = closeErr
			default:
				err = must.BeFlaw(err).Join(closeErr)
			}
		}
	}()

	tag.SetVersion(4)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(meta.Title)
	tag.SetArtist(meta.Artist)
	tag.SetAlbum(meta.Album)
	tag.SetGenre(meta.Genre)
	tag.DeleteFrames(tag.CommonID("Attached picture"))
	tag.AddAttachedPicture(id3v2.PictureFrame{
		Encoding:    id3v2.EncodingUTF8,
		MimeType:    http.DetectContentType(cover),
		PictureType: id3v2.PTFrontCover,
		Description: "Cover",
		Picture:     cover,
	})

	if err := tag.Save(); nil != err {
		flawP := flaw.P{"path": audioPath, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to save audio file tags: %v", err)).Append(flawP)
	}
	return nil
}

func read(audioPath string) (res *Result, err error) {
	tag, err := id3v2.Open(audioPath, id3v2.Options{Parse: true}) //nolint:exhaustruct
	if nil != err {
		flawP := flaw.P{"path": audioPath, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to reopen tagged audio file: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := tag.Close(); nil != closeErr {
			flawP := flaw.P{"path": audioPath, "err_debug_tree": errutil.Tree(closeErr).FlawP()}
			closeErr = flaw.From(fmt.Errorf("failed to close tagged audio file: %v", closeErr)).Append(flawP)
			switch {
			case nil == err:
				err = closeErr
			default:
				err = must.BeFlaw(err).Join(closeErr)
			}
		}
	}()

	res = &Result{
		Title:      tag.Title(),
		Artist:     tag.Artist(),
		Album:      tag.Album(),
		Genre:      tag.Genre(),
		CoverMIME:  "",
		CoverBytes: 0,
	}
	for _, f := range tag.GetFrames(tag.CommonID("Attached picture")) {
		if pic, ok := f.(id3v2.PictureFrame); ok && pic.PictureType == id3v2.PTFrontCover {
			res.CoverMIME = pic.MimeType
			res.CoverBytes = len(pic.Picture)
		}
	}
	if res.CoverBytes == 0 {
		return nil, flaw.From(errors.New("front cover is missing after tagging")).Append(flaw.P{"path": audioPath})
	}
	return res, nil
}
