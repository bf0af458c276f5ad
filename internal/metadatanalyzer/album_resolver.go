package metadatanalyzer

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"catalogizer/internal/item"
	"catalogizer/models"
	"catalogizer/repository"
)

// resolver holds the single-threaded hot caches spec §5 describes
// (m_previous_album and friends). It is only ever touched from the
// analyzer's one worker thread, so no locking protects these fields.
type resolver struct {
	deps   Deps
	logger *zap.Logger

	previousAlbum    *models.Album
	previousFolderID *int64
}

func newResolver(deps Deps, logger *zap.Logger) *resolver {
	return &resolver{deps: deps, logger: logger}
}

func (r *resolver) reset() {
	r.previousAlbum = nil
	r.previousFolderID = nil
}

// resolveAlbum implements the disambiguation algorithm of spec §4.6.3.
// It returns the resolved album and whether it was newly created.
func (r *resolver) resolveAlbum(ctx context.Context, tx *sql.Tx, albumName string, albumArtist, trackArtist *models.Artist, tags item.Tags, folderID *int64) (*models.Album, bool, error) {
	if albumName == "" {
		owner := albumArtist
		if owner == nil {
			owner = trackArtist
		}
		album, err := r.deps.Albums.GetOrCreateUnknownAlbum(ctx, tx, owner.ID)
		if err != nil {
			return nil, false, err
		}
		created := album.NbTracks == 0 && album.ThumbnailID == nil
		r.previousAlbum = nil // each artist has its own unknown bucket; nothing useful to memoize
		return album, created, nil
	}

	if r.previousAlbum != nil && r.previousAlbum.Title == albumName && samePtr(r.previousFolderID, folderID) {
		return r.previousAlbum, false, nil
	}
	r.previousAlbum = nil

	candidates, err := r.deps.Albums.CandidatesByTitle(ctx, tx, albumName)
	if err != nil {
		return nil, false, err
	}

	multiDisc := tags.DiscTotal > 1 || tags.DiscNumber > 1
	taskYear, hasYear := parseYear(tags.Date)

	var survivors []repository.AlbumCandidate
	for _, c := range candidates {
		if albumArtist != nil && c.Album.AlbumArtistID != albumArtist.ID {
			continue
		}
		if multiDisc {
			survivors = append(survivors, c)
			continue
		}

		trackArtistKnown := trackArtist != nil && trackArtist.ID != models.UnknownArtistID
		candidateMultiDisc := false
		multipleArtists := false
		var firstTrackArtistID int64
		haveFirstTrackArtistID := false
		for _, t := range c.Tracks {
			if t.DiscNumber > 1 {
				candidateMultiDisc = true
			}
			if trackArtistKnown {
				if t.ArtistID != trackArtist.ID {
					multipleArtists = true
				}
				continue
			}
			// trackArtist unknown: diverge against the candidate's own
			// tracks rather than a known artist (spec §4.6.3 step 3c).
			if !haveFirstTrackArtistID {
				firstTrackArtistID = t.ArtistID
				haveFirstTrackArtistID = true
			} else if t.ArtistID != firstTrackArtistID {
				multipleArtists = true
			}
		}
		if candidateMultiDisc {
			survivors = append(survivors, c)
			continue
		}

		sameFolder := false
		for _, t := range c.Tracks {
			if samePtr(t.FolderID, folderID) {
				sameFolder = true
				break
			}
		}
		if sameFolder {
			survivors = append(survivors, c)
			continue
		}

		if hasYear && c.Album.ReleaseYear != nil && *c.Album.ReleaseYear != taskYear && !multipleArtists {
			continue
		}
		survivors = append(survivors, c)
	}

	var album *models.Album
	switch len(survivors) {
	case 0:
		owner := albumArtist
		if owner == nil {
			owner = trackArtist
		}
		album, err = r.deps.Albums.Create(ctx, tx, albumName, owner.ID)
		if err != nil {
			return nil, false, err
		}
		r.previousAlbum = album
		r.previousFolderID = folderID
		return album, true, nil
	case 1:
		album = survivors[0].Album
	default:
		if r.logger != nil {
			r.logger.Warn("ambiguous album candidates, picking first",
				zap.String("album", albumName), zap.Int("candidates", len(survivors)))
		}
		album = survivors[0].Album
	}

	r.previousAlbum = album
	r.previousFolderID = folderID
	return album, false, nil
}

func samePtr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
