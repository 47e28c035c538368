package models

import (
	"sort"
	"strconv"
)

// ActionType is a loader report counter.
type ActionType string

const (
	ActionCreated ActionType = "created"
	ActionUpdated ActionType = "updated"
	ActionSkipped ActionType = "skipped"
	ActionDeleted ActionType = "deleted"
	ActionFailed  ActionType = "failed"
)

// StatsFileObject is one entry of the stats file that lists transformer files.
type StatsFileObject struct {
	ID       string `json:"id"`
	ItemType string `json:"item_type"`
	FileName string `json:"file_name"`
	Count    string `json:"count"`
}

// FileToLoad is a resumable cursor into one transformer file.
type FileToLoad struct {
	ID            string `json:"id"`
	FileName      string `json:"file_name"`
	ItemType      string `json:"itemType"`
	Count         int    `json:"count"`
	LineToProcess int    `json:"lineToProcess"`
	Completed     bool   `json:"completed"`
}

// LoaderReport counts the outcomes of loaded items of one item type.
type LoaderReport struct {
	ItemType string `json:"item_type"`
	Created  int    `json:"created,omitempty"`
	Updated  int    `json:"updated,omitempty"`
	Skipped  int    `json:"skipped,omitempty"`
	Deleted  int    `json:"deleted,omitempty"`
	Failed   int    `json:"failed,omitempty"`
}

// NewLoaderReport returns a report with a single outcome counted.
func NewLoaderReport(itemType string, action ActionType) LoaderReport {
	r := LoaderReport{ItemType: itemType}
	switch action {
	case ActionCreated:
		r.Created = 1
	case ActionUpdated:
		r.Updated = 1
	case ActionSkipped:
		r.Skipped = 1
	case ActionDeleted:
		r.Deleted = 1
	case ActionFailed:
		r.Failed = 1
	}
	return r
}

// LoaderReports holds at most one report per item type.
type LoaderReports []LoaderReport

// Add sums the counters of r into the report of the same item type.
func (rs LoaderReports) Add(r LoaderReport) LoaderReports {
	for i := range rs {
		if rs[i].ItemType == r.ItemType {
			rs[i].Created += r.Created
			rs[i].Updated += r.Updated
			rs[i].Skipped += r.Skipped
			rs[i].Deleted += r.Deleted
			rs[i].Failed += r.Failed
			return rs
		}
	}
	return append(rs, r)
}

// FilesToLoad builds the loading cursors from a stats file. Only supported item
// types are kept, ordered by their position in supportedItemTypes.
func FilesToLoad(supportedItemTypes []string, statsFile []StatsFileObject) []FileToLoad {
	if len(supportedItemTypes) == 0 || len(statsFile) == 0 {
		return []FileToLoad{}
	}

	order := make(map[string]int, len(supportedItemTypes))
	for i, itemType := range supportedItemTypes {
		if _, ok := order[itemType]; !ok {
			order[itemType] = i
		}
	}

	filtered := make([]StatsFileObject, 0, len(statsFile))
	for _, file := range statsFile {
		if _, ok := order[file.ItemType]; ok {
			filtered = append(filtered, file)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return order[filtered[i].ItemType] < order[filtered[j].ItemType]
	})

	files := make([]FileToLoad, 0, len(filtered))
	for _, file := range filtered {
		count, _ := strconv.Atoi(file.Count)
		files = append(files, FileToLoad{
			ID:       file.ID,
			FileName: file.FileName,
			ItemType: file.ItemType,
			Count:    count,
		})
	}
	return files
}

// ExternalSystemItem is one record of a transformer file.
type ExternalSystemItem struct {
	ID           ExternalSystemItemID   `json:"id"`
	CreatedDate  string                 `json:"created_date"`
	ModifiedDate string                 `json:"modified_date"`
	Data         map[string]interface{} `json:"data"`
}

// ExternalSystemItemID links a platform id to an external id.
type ExternalSystemItemID struct {
	DevRev   string `json:"devrev"`
	External string `json:"external,omitempty"`
}
