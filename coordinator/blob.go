package coordinator

import (
	"encoding/json"

	"github.com/nicolagi/atlassync/transfer"
)

func marshalBlob(blob transfer.FileBlob) (json.RawMessage, error) {
	return json.Marshal(blob)
}

func unmarshalBlob(raw json.RawMessage, blob *transfer.FileBlob) error {
	return json.Unmarshal(raw, blob)
}
