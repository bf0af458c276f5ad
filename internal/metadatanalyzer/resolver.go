package metadatanalyzer

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"catalogizer/internal/item"
	"catalogizer/internal/notify"
	"catalogizer/internal/parsertask"
	"catalogizer/models"
)

// analyzeVideo implements the video branch of spec §4.6.1.
func (s *Service) analyzeVideo(ctx context.Context, tx *sql.Tx, task *parsertask.Task, it *item.Item) error {
	mediaID := *task.MediaID
	subType := models.SubTypeMovie

	if it.Tags.Title != "" {
		if err := s.deps.Media.SetTitle(ctx, tx, mediaID, it.Tags.Title); err != nil {
			return err
		}
	}
	if it.Tags.ArtworkURL != "" && !strings.HasPrefix(it.Tags.ArtworkURL, "attachment://") {
		thumb, err := s.deps.Thumbnails.Create(ctx, tx, it.Tags.ArtworkURL, models.ThumbnailMedia, false)
		if err != nil {
			return err
		}
		if err := s.deps.Media.SetThumbnail(ctx, tx, mediaID, thumb.ID); err != nil {
			return err
		}
	}

	if it.Tags.ShowName != "" {
		show, err := s.deps.Shows.FindOrCreate(ctx, tx, normalizeTag(it.Tags.ShowName))
		if err != nil {
			return err
		}
		subType = models.SubTypeShowEpisode
		if episode, ok := parsePositiveInt(it.Tags.Episode); ok {
			if _, err := s.deps.ShowEpisodes.Create(ctx, tx, mediaID, show.ID, episode, it.Tags.Title); err != nil {
				return err
			}
		}
	} else {
		if _, err := s.deps.Movies.Create(ctx, tx, mediaID, it.Tags.Title); err != nil {
			return err
		}
	}

	return s.deps.Media.UpdateTypeAndSubType(ctx, tx, mediaID, models.MediaVideo, subType)
}

// analyzeAudio implements the audio branch of spec §4.6.2.
func (s *Service) analyzeAudio(ctx context.Context, tx *sql.Tx, task *parsertask.Task, it *item.Item) error {
	mediaID := *task.MediaID

	artworkMrl := it.Tags.ArtworkURL
	if strings.HasPrefix(artworkMrl, "attachment://") {
		// Only valid while the decoder is open; never propagate to
		// album/artist thumbnails (spec §4.6.2).
		artworkMrl = ""
	}

	genre, err := s.deps.Genres.FindOrCreate(ctx, tx, normalizeTag(it.Tags.Genre))
	if err != nil {
		return err
	}

	albumArtist, trackArtist, err := s.resolveArtists(ctx, tx, normalizeTag(it.Tags.AlbumArtist), normalizeTag(it.Tags.Artist))
	if err != nil {
		return err
	}

	folderID, err := s.deps.Files.FolderIDForFile(ctx, *task.FileID)
	if err != nil {
		return err
	}

	album, created, err := s.resolver.resolveAlbum(ctx, tx, normalizeTag(it.Tags.Album), albumArtist, trackArtist, it.Tags, folderID)
	if err != nil {
		return err
	}
	if created && artworkMrl != "" {
		thumb, err := s.deps.Thumbnails.Create(ctx, tx, artworkMrl, models.ThumbnailAlbum, false)
		if err != nil {
			return err
		}
		if err := s.deps.Albums.SetThumbnail(ctx, tx, album.ID, thumb.ID); err != nil {
			return err
		}
		album.ThumbnailID = &thumb.ID
	}

	title := it.Tags.Title
	trackNumber := it.Tags.TrackNumber
	discNumber := it.Tags.DiscNumber
	if discNumber == 0 {
		discNumber = 1
	}
	if title == "" {
		title = trackFallbackTitle(trackNumber)
	}
	if err := s.deps.Media.SetTitle(ctx, tx, mediaID, title); err != nil {
		return err
	}

	var genreID *int64
	if genre != nil {
		genreID = &genre.ID
	}
	at := &models.AlbumTrack{
		MediaID:     mediaID,
		AlbumID:     album.ID,
		ArtistID:    trackArtist.ID,
		GenreID:     genreID,
		TrackNumber: trackNumber,
		DiscNumber:  discNumber,
		Duration:    it.DurationMs,
	}
	if _, err := s.deps.AlbumTracks.Create(ctx, tx, at); err != nil {
		return err
	}
	s.hub.Publish(notify.Event{Kind: notify.KindAlbumTrackCreation, AlbumTrackID: at.ID})

	if year, ok := parseYear(it.Tags.Date); ok {
		if err := s.deps.Media.SetReleaseYear(ctx, tx, mediaID, year); err != nil {
			return err
		}
		if err := s.deps.Albums.SetReleaseYear(ctx, tx, album.ID, year, false); err != nil {
			return err
		}
	}

	if err := s.linkAlbum(ctx, tx, mediaID, album, albumArtist, trackArtist); err != nil {
		return err
	}

	return s.deps.Media.UpdateTypeAndSubType(ctx, tx, mediaID, models.MediaAudio, models.SubTypeAlbumTrack)
}

func trackFallbackTitle(trackNumber int) string {
	return "Track #" + strconv.Itoa(trackNumber)
}

// resolveArtists implements spec §4.6.2's artist resolution rules.
func (s *Service) resolveArtists(ctx context.Context, tx *sql.Tx, albumArtistTag, artistTag string) (albumArtist, trackArtist *models.Artist, err error) {
	if albumArtistTag == "" && artistTag == "" {
		unknown, err := s.deps.Artists.GetByID(ctx, models.UnknownArtistID)
		if err != nil {
			return nil, nil, err
		}
		return unknown, unknown, nil
	}

	if albumArtistTag != "" {
		a, wasCreated, err := s.deps.Artists.FindOrCreate(ctx, tx, albumArtistTag)
		if err != nil {
			return nil, nil, err
		}
		if wasCreated {
			s.hub.Publish(notify.Event{Kind: notify.KindArtistCreation, ArtistID: a.ID})
		}
		albumArtist = a
	}

	if artistTag != "" && artistTag != albumArtistTag {
		a, wasCreated, err := s.deps.Artists.FindOrCreate(ctx, tx, artistTag)
		if err != nil {
			return nil, nil, err
		}
		if wasCreated {
			s.hub.Publish(notify.Event{Kind: notify.KindArtistCreation, ArtistID: a.ID})
		}
		trackArtist = a
	} else if albumArtist != nil {
		trackArtist = albumArtist
	}

	if albumArtist == nil {
		albumArtist = trackArtist
	}
	if trackArtist == nil {
		trackArtist = albumArtist
	}
	return albumArtist, trackArtist, nil
}

// linkAlbum implements the album-linking rules of spec §4.6.4.
func (s *Service) linkAlbum(ctx context.Context, tx *sql.Tx, mediaID int64, album *models.Album, albumArtist, trackArtist *models.Artist) error {
	if albumArtist == nil {
		albumArtist = trackArtist
	}

	if err := s.propagateThumbnail(ctx, tx, album, albumArtist, trackArtist); err != nil {
		return err
	}

	distinctArtists := []*models.Artist{albumArtist}
	if trackArtist.ID != albumArtist.ID {
		distinctArtists = append(distinctArtists, trackArtist)
	}
	for _, a := range distinctArtists {
		if err := s.deps.Artists.IncrementTracks(ctx, tx, a.ID, 1); err != nil {
			return err
		}
	}

	if album.AlbumArtistID == 0 {
		if err := s.deps.Albums.SetAlbumArtist(ctx, tx, album.ID, albumArtist.ID); err != nil {
			return err
		}
		if err := s.deps.Albums.AddArtist(ctx, tx, album.ID, albumArtist.ID, false); err != nil {
			return err
		}
		if trackArtist.ID != albumArtist.ID {
			if err := s.deps.Albums.AddArtist(ctx, tx, album.ID, trackArtist.ID, true); err != nil {
				return err
			}
		}
		return s.incrementAlbumTracks(ctx, tx, album)
	}

	if album.AlbumArtistID != albumArtist.ID && album.AlbumArtistID != models.VariousArtistsID {
		if err := s.deps.Artists.IncrementTracks(ctx, tx, album.AlbumArtistID, -album.NbTracks); err != nil {
			return err
		}
		if err := s.deps.Artists.IncrementTracks(ctx, tx, models.VariousArtistsID, album.NbTracks); err != nil {
			return err
		}
		if err := s.deps.Albums.SetAlbumArtist(ctx, tx, album.ID, models.VariousArtistsID); err != nil {
			return err
		}
		if err := s.deps.Albums.AddArtist(ctx, tx, album.ID, albumArtist.ID, true); err != nil {
			return err
		}
	}
	return s.incrementAlbumTracks(ctx, tx, album)
}

// incrementAlbumTracks bumps both the persisted and in-memory nb_tracks for
// the track just linked. Kept after the compilation-promotion branch above
// so that branch still sees the pre-link count when migrating artist
// credit (spec §4.6.4, spec §8 scenarios 1-2).
func (s *Service) incrementAlbumTracks(ctx context.Context, tx *sql.Tx, album *models.Album) error {
	if err := s.deps.Albums.IncrementTracks(ctx, tx, album.ID, 1); err != nil {
		return err
	}
	album.NbTracks++
	return nil
}

func (s *Service) propagateThumbnail(ctx context.Context, tx *sql.Tx, album *models.Album, albumArtist, trackArtist *models.Artist) error {
	if album.ThumbnailID == nil {
		return nil
	}
	if albumArtist.ID != models.UnknownArtistID && albumArtist.ID != models.VariousArtistsID && albumArtist.ThumbnailID == nil {
		if err := s.deps.Artists.SetThumbnail(ctx, tx, albumArtist.ID, *album.ThumbnailID); err != nil {
			return err
		}
	}
	if trackArtist.ID != models.UnknownArtistID && trackArtist.ID != models.VariousArtistsID && trackArtist.ThumbnailID == nil {
		if err := s.deps.Artists.SetThumbnail(ctx, tx, trackArtist.ID, *album.ThumbnailID); err != nil {
			return err
		}
	}
	return nil
}
