package logger

import "github.com/ajitpratap0/airsync/pkg/json"

// PrintableArray summarizes an array for logging.
type PrintableArray struct {
	Type      string      `json:"type"`
	Length    int         `json:"length"`
	FirstItem interface{} `json:"firstItem,omitempty"`
	LastItem  interface{} `json:"lastItem,omitempty"`
}

// PrintableState returns a log friendly view of v where every array is replaced
// by its length, first and last items.
func PrintableState(v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return v
	}
	return summarize(generic)
}

func summarize(v interface{}) interface{} {
	switch value := v.(type) {
	case []interface{}:
		arr := PrintableArray{Type: "array", Length: len(value)}
		if len(value) > 0 {
			arr.FirstItem = value[0]
		}
		if len(value) > 1 {
			arr.LastItem = value[len(value)-1]
		}
		return arr
	case map[string]interface{}:
		out := make(map[string]interface{}, len(value))
		for k, item := range value {
			out[k] = summarize(item)
		}
		return out
	default:
		return v
	}
}
