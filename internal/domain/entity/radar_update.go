package entity

// RadarUpdate is one event on the UI channel. Exactly one of Entities (a full
// render set, possibly empty) or Err is meaningful.
type RadarUpdate struct {
	Seq       uint64         `json:"seq"`
	HandleID  HandleID       `json:"handle_id"`
	Condition QueryCondition `json:"condition"`
	Entities  []RenderEntity `json:"entities"`
	Dropped   int            `json:"dropped,omitempty"`
	Err       error          `json:"-"`
}

// IsError reports whether the update carries a provider failure.
func (u RadarUpdate) IsError() bool {
	return u.Err != nil
}
