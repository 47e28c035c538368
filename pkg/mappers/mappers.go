// Package mappers talks to the sync mapper service that links platform objects to
// their counterparts in the external system.
package mappers

import (
	"context"
	"net/http"
	"strings"

	"github.com/carlmjohnson/requests"

	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/models"
)

// RecordStatus is the status of a sync mapper record
type RecordStatus string

const (
	StatusOperational RecordStatus = "operational"
	StatusFiltered    RecordStatus = "filtered"
	StatusIgnored     RecordStatus = "ignored"
)

// Record is a sync mapper record
type Record struct {
	ID           string            `json:"id"`
	ExternalIDs  []string          `json:"external_ids,omitempty"`
	SecondaryIDs map[string]string `json:"secondary_ids,omitempty"`
	Targets      []string          `json:"targets,omitempty"`
	Status       RecordStatus      `json:"status,omitempty"`
	InputFiles   []string          `json:"input_files,omitempty"`
}

// CreateParams creates a mapper record
type CreateParams struct {
	SyncUnit    string       `json:"sync_unit"`
	ExternalIDs []string     `json:"external_ids"`
	Targets     []string     `json:"targets"`
	Status      RecordStatus `json:"status"`
}

// ExternalVersion records the external modification that produced a mapping
type ExternalVersion struct {
	ModifiedDate  string `json:"modified_date"`
	RecipeVersion int    `json:"recipe_version"`
}

// UpdateParams updates a mapper record. The nested Add lists append to the record.
type UpdateParams struct {
	ID               string                    `json:"id"`
	SyncUnit         string                    `json:"sync_unit"`
	Status           RecordStatus              `json:"status"`
	ExternalIDs      *AddList[string]          `json:"external_ids,omitempty"`
	Targets          *AddList[string]          `json:"targets,omitempty"`
	ExternalVersions *AddList[ExternalVersion] `json:"external_versions,omitempty"`
}

// AddList appends values to a list field
type AddList[T any] struct {
	Add []T `json:"add"`
}

// Client is the sync mapper client of one invocation
type Client struct {
	client   *http.Client
	endpoint string
	token    string
}

// New creates a mapper client for the invocation
func New(client *http.Client, event *models.Event) *Client {
	return &Client{
		client:   client,
		endpoint: strings.TrimRight(event.Endpoint(), "/"),
		token:    event.Token(),
	}
}

// ErrNotFound is returned by GetByTarget when no record links the target
var ErrNotFound = errors.New(errors.ErrorTypeNotFound, "sync mapper record not found")

// GetByTarget returns the record linked to a platform object id.
func (c *Client) GetByTarget(ctx context.Context, syncUnit, target string) (*Record, error) {
	var resp struct {
		SyncMapperRecord *Record `json:"sync_mapper_record"`
	}
	err := requests.
		URL(c.endpoint+"/internal/airdrop.sync-mapper-record.get-by-target").
		Client(c.client).
		Header("Authorization", c.token).
		Param("sync_unit", syncUnit).
		Param("target", target).
		ToJSON(&resp).
		Fetch(ctx)
	if requests.HasStatusErr(err, http.StatusNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to get sync mapper record")
	}
	if resp.SyncMapperRecord == nil {
		return nil, errors.New(errors.ErrorTypeData, "sync mapper response has no record")
	}
	return resp.SyncMapperRecord, nil
}

// Create creates a record.
func (c *Client) Create(ctx context.Context, params CreateParams) (*Record, error) {
	return c.post(ctx, "/internal/airdrop.sync-mapper-record.create", params, "failed to create sync mapper record")
}

// Update updates a record.
func (c *Client) Update(ctx context.Context, params UpdateParams) (*Record, error) {
	return c.post(ctx, "/internal/airdrop.sync-mapper-record.update", params, "failed to update sync mapper record")
}

func (c *Client) post(ctx context.Context, path string, body interface{}, msg string) (*Record, error) {
	var resp struct {
		SyncMapperRecord *Record `json:"sync_mapper_record"`
	}
	err := requests.
		URL(c.endpoint+path).
		Client(c.client).
		Header("Authorization", c.token).
		BodyJSON(body).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, msg)
	}
	return resp.SyncMapperRecord, nil
}
