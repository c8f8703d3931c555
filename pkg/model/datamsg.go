package model

// DataMsg announces that one input partition of a task can be hydrated.
// Optional fields are pointers: whether a field is present selects how the
// partition is read, so absent and zero are not the same thing.
type DataMsg struct {
	PartitionID int64  `json:"partition_id"`
	Length      *int64 `json:"length,omitempty"`
	Size        *int64 `json:"size,omitempty"`
	NumItems    *int64 `json:"num_items,omitempty"`
	Offset      *int64 `json:"offset,omitempty"`
	Path        string `json:"path"`
	BVal        *int64 `json:"bval,omitempty"`
}

// StreamLength marks a partitioned message whose content is streamed from a file.
const StreamLength = -1

// IsBroadcast reports whether the message carries broadcast data.
func (m *DataMsg) IsBroadcast() bool { return m.PartitionID < 0 }

func (m *DataMsg) HasLength() bool { return m.Length != nil }

func (m *DataMsg) HasBVal() bool { return m.BVal != nil }

func (m *DataMsg) HasNumItems() bool { return m.NumItems != nil }

// GetLength returns the length or 0 when absent.
func (m *DataMsg) GetLength() int64 { return deref(m.Length) }

// GetSize returns the size or 0 when absent.
func (m *DataMsg) GetSize() int64 { return deref(m.Size) }

// GetOffset returns the offset or 0 when absent.
func (m *DataMsg) GetOffset() int64 { return deref(m.Offset) }

// GetNumItems returns num_items or 0 when absent.
func (m *DataMsg) GetNumItems() int64 { return deref(m.NumItems) }

// GetBVal returns the broadcast scalar or 0 when absent.
func (m *DataMsg) GetBVal() int64 { return deref(m.BVal) }

// Int64 returns a pointer to v, for building messages.
func Int64(v int64) *int64 { return &v }

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
