package service

import "errors"

var (
	// ErrInvalidArgument is returned for malformed requests.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrProjectNotFound is returned when the project key is unknown.
	ErrProjectNotFound = errors.New("project not found")

	// ErrProjectNotIndexed is returned when the project has no vector collection.
	ErrProjectNotIndexed = errors.New("project not indexed")

	// ErrNoChunks is returned when a push finds nothing to index.
	ErrNoChunks = errors.New("project has no chunks")

	// ErrDimensionMismatch is returned when embeddings do not fit the collection.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrGenerationFailed is returned when the answer step fails at the provider.
	// It is always joined with a provider.ErrCallFailed cause.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrAssetNotFound is returned when a named asset does not exist in the project.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrNoAssets is returned when processing finds no assets to read.
	ErrNoAssets = errors.New("project has no assets")

	// ErrAssetsUnreadable is returned when none of the selected asset files could be read.
	ErrAssetsUnreadable = errors.New("no asset file could be read")
)
