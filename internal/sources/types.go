package sources

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/stacklok/recordsync/internal/config"
	pkgsync "github.com/stacklok/recordsync/internal/sync"
	"github.com/stacklok/recordsync/internal/syncerr"
)

//go:generate mockgen -destination=mocks/mock_source_factory.go -package=mocks -source=types.go SourceFactory

// SourceFactory creates sources from job configuration
type SourceFactory interface {
	// CreateSource creates the source configured for job
	CreateSource(job *config.JobConfig) (pkgsync.Source, error)
}

// DecodeRecords extracts the records array from a change-set document. The
// array is found at layout.RecordsPath, or at the document root when the path
// is empty. Key and tenant are read from every element with the layout's
// paths; missing values are left empty and rejected later by the mapper.
func DecodeRecords(data []byte, layout config.RecordLayout) ([]pkgsync.Record, error) {
	if !gjson.ValidBytes(data) {
		return nil, syncerr.System("decode change-set", fmt.Errorf("document is not valid JSON"))
	}

	doc := gjson.ParseBytes(data)
	if layout.RecordsPath != "" {
		doc = doc.Get(layout.RecordsPath)
		if !doc.Exists() {
			return nil, syncerr.System("decode change-set",
				fmt.Errorf("records path %q not found", layout.RecordsPath))
		}
	}
	if !doc.IsArray() {
		return nil, syncerr.System("decode change-set", fmt.Errorf("records must be a JSON array"))
	}

	keyPath := layout.GetKeyPath()
	tenantPath := layout.GetTenantPath()

	elems := doc.Array()
	records := make([]pkgsync.Record, 0, len(elems))
	for _, elem := range elems {
		records = append(records, pkgsync.Record{
			Key:     elem.Get(keyPath).String(),
			Tenant:  elem.Get(tenantPath).String(),
			Payload: json.RawMessage(elem.Raw),
		})
	}
	return records, nil
}
