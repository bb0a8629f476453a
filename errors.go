package medgraph

import (
	"errors"

	"github.com/brunobiangulo/medgraph/parser"
	"github.com/brunobiangulo/medgraph/store"
)

var (
	// ErrConfiguration is returned when a required credential, URI or
	// provider setting is missing or invalid.
	ErrConfiguration = errors.New("medgraph: invalid configuration")

	// ErrNotInitialized is returned by Ask before the index is built.
	ErrNotInitialized = errors.New("medgraph: engine not initialized")

	// ErrAlreadyInitialized is returned by Initialize when the index exists.
	// Use Reinitialize to rebuild it.
	ErrAlreadyInitialized = errors.New("medgraph: engine already initialized")

	// ErrInitializing is returned while another initialization is running.
	ErrInitializing = errors.New("medgraph: initialization in progress")

	// ErrEmptyGraph is returned when the graph projects to no documents.
	ErrEmptyGraph = errors.New("medgraph: graph has no documents to index")

	// ErrProvider is returned when the embedding or chat provider fails.
	ErrProvider = errors.New("medgraph: LLM provider failed")

	// ErrInvalidQuestion is returned for a blank question.
	ErrInvalidQuestion = errors.New("medgraph: question is empty")

	// ErrStoreClosed is returned when operating on a closed engine.
	ErrStoreClosed = errors.New("medgraph: store is closed")
)

var (
	// ErrInvalidRecord marks an input row that failed to parse or validate.
	// Such rows are logged and skipped.
	ErrInvalidRecord = parser.ErrInvalidRecord

	// ErrMissingEndpoint marks a relationship whose subject or object node
	// does not exist. Such relationships are skipped.
	ErrMissingEndpoint = store.ErrMissingEndpoint
)
