package model

import (
	"encoding/json"
	"testing"
)

func TestDataMsg_PresenceSurvivesJSON(t *testing.T) {
	in := DataMsg{PartitionID: -1, BVal: Int64(0)}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out DataMsg
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.HasBVal() {
		t.Error("bval=0 must stay present")
	}
	if out.HasLength() {
		t.Error("length must stay absent")
	}
	if !out.IsBroadcast() {
		t.Error("negative partition id is broadcast")
	}
}

func TestDataMsg_Getters(t *testing.T) {
	m := DataMsg{PartitionID: 4, Length: Int64(StreamLength), Size: Int64(128), Offset: Int64(16)}
	if m.GetLength() != -1 || m.GetSize() != 128 || m.GetOffset() != 16 {
		t.Errorf("getters = %d %d %d", m.GetLength(), m.GetSize(), m.GetOffset())
	}
	if m.GetNumItems() != 0 || m.HasNumItems() {
		t.Error("num_items should be absent")
	}
}
