package models

import "time"

// MediaType classifies a Media row at the top level.
type MediaType int

const (
	MediaUnknown MediaType = iota
	MediaVideo
	MediaAudio
	MediaExternal
	MediaStream
)

// MediaSubType narrows a Media row to the entity that owns its details.
type MediaSubType int

const (
	SubTypeUnknown MediaSubType = iota
	SubTypeShowEpisode
	SubTypeMovie
	SubTypeAlbumTrack
)

// Media is one logical item of content in the catalog.
type Media struct {
	ID                 int64
	Type               MediaType
	SubType            MediaSubType
	DurationMs         int64 // negative = unknown
	PlayCount          int64
	LastPlayedDate      *time.Time
	RealLastPlayedDate  *time.Time // never touched by history replay
	InsertionDate       time.Time
	ReleaseYear         *int
	ThumbnailID         *int64
	Title               string
	Filename            string
	IsFavorite          bool
	NbPlaylists         int // cache, maintained by triggers
	DeviceID            *int64
	FolderID            *int64
}

// FileType classifies the role a File plays for its owning Media.
type FileType int

const (
	FileMain FileType = iota
	FilePart
	FileSoundtrack
	FileSubtitle
	FilePlaylist
	FileDisc
)

// File is a physical or external resource backing a Media.
type File struct {
	ID                   int64
	MediaID              int64
	Mrl                  string
	Type                 FileType
	LastModificationDate time.Time
	Size                 int64
	IsRemovable          bool
	FolderID             *int64
	IsExternal           bool
}

// Folder is one node of the discovered filesystem hierarchy.
type Folder struct {
	ID       int64
	Mrl      string
	ParentID *int64
	DeviceID int64
}

// Device is a mountpoint a Folder/File lives under.
type Device struct {
	ID          int64
	UUID        string
	Scheme      string
	IsRemovable bool
	IsPresent   bool
	LastSeen    time.Time
}

// ThumbnailOrigin records which entity a Thumbnail was attached from.
type ThumbnailOrigin int

const (
	ThumbnailUserProvided ThumbnailOrigin = iota
	ThumbnailMedia
	ThumbnailAlbum
	ThumbnailAlbumArtist
	ThumbnailArtist
)

// Thumbnail is a generated or user-supplied cover image.
type Thumbnail struct {
	ID          int64
	Mrl         string
	Origin      ThumbnailOrigin
	IsGenerated bool // stays true even on generation failure, to prevent retries
}

// Artist is a performer or album artist. Ids 1 and 2 are reserved sentinels.
type Artist struct {
	ID          int64
	Name        string
	ThumbnailID *int64
	NbTracks    int
}

const (
	// UnknownArtistID is the sentinel used when no artist tag can be resolved.
	UnknownArtistID int64 = 1
	// VariousArtistsID is the sentinel an Album is promoted to once it is a compilation.
	VariousArtistsID int64 = 2
)

// Genre is a nullable classification attached to an AlbumTrack.
type Genre struct {
	ID   int64
	Name string
}

// Album groups AlbumTrack rows under one album artist.
type Album struct {
	ID            int64
	Title         string
	AlbumArtistID int64 // mandatory once tracks exist
	ReleaseYear   *int
	ThumbnailID   *int64
	NbTracks      int
}

// AlbumTrack keys one Media into exactly one album, artist and optional genre.
type AlbumTrack struct {
	ID          int64
	MediaID     int64
	AlbumID     int64
	ArtistID    int64
	GenreID     *int64
	TrackNumber int
	DiscNumber  int
	Duration    int64
}

// Show groups ShowEpisode rows under a series title.
type Show struct {
	ID          int64
	Name        string
	ThumbnailID *int64
}

// ShowEpisode keys one Media into a Show at a given episode number.
type ShowEpisode struct {
	ID            int64
	MediaID       int64
	ShowID        int64
	EpisodeNumber int
	Title         string
}

// Movie keys one Media as a standalone feature (no automatic resolution path).
type Movie struct {
	ID      int64
	MediaID int64
	Title   string
}

// Playlist groups PlaylistItem rows, created from a .m3u-shaped file.
type Playlist struct {
	ID     int64
	Title  string
	FileID int64
}

// PlaylistItem is one 1-indexed entry of a Playlist, linking to a Media when resolved.
type PlaylistItem struct {
	ID         int64
	PlaylistID int64
	Index      int
	MediaID    *int64
	Mrl        string
}

// Metadata is a free-form key/value row attached to a Media.
type Metadata struct {
	ID      int64
	MediaID int64
	Key     string
	Value   string
}

// Settings is the singleton configuration/state row (schema_version, sentinel ids).
type Settings struct {
	SchemaVersion     int
	UnknownArtistID   int64
	VariousArtistsID  int64
}
