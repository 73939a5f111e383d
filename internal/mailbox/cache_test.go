package mailbox

import (
	"encoding/json"
	"testing"
)

func TestNormalize(t *testing.T) {
	synced := true
	raw := RawRecord{
		DisplayName:          "  Ann Smith ",
		PrimarySmtpAddress:   "ann@contoso.com ",
		RecipientTypeDetails: "UserMailbox",
		IsDirSynced:          &synced,
	}
	row := Normalize(raw)

	if row.DisplayName != "Ann Smith" || row.PrimaryAddress != "ann@contoso.com" {
		t.Errorf("Normalize() text fields = %q / %q", row.DisplayName, row.PrimaryAddress)
	}
	if row.IsDirectorySynced == nil || !*row.IsDirectorySynced {
		t.Errorf("Normalize() IsDirectorySynced = %v, want true", row.IsDirectorySynced)
	}
	if row.IsCloudManaged != nil {
		t.Errorf("Normalize() IsCloudManaged = %v, want nil", *row.IsCloudManaged)
	}
	if row.Status() != StatusUnknown {
		t.Errorf("Status() = %v, want Unknown", row.Status())
	}

	// The row must not alias the raw record's flags.
	synced = false
	if !*row.IsDirectorySynced {
		t.Error("Normalize() aliased the raw IsDirSynced pointer")
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		managed *bool
		want    Status
		label   string
	}{
		{boolPtr(true), StatusOnline, "Online"},
		{boolPtr(false), StatusOnPrem, "OnPrem"},
		{nil, StatusUnknown, "Unknown"},
	}
	for _, tt := range tests {
		row := MailboxRow{IsCloudManaged: tt.managed}
		if got := row.Status(); got != tt.want || got.String() != tt.label {
			t.Errorf("Status(%v) = %v (%s), want %v (%s)", tt.managed, got, got, tt.want, tt.label)
		}
	}
}

func TestRawRecord_DecodesExchangeShape(t *testing.T) {
	payload := `{"DisplayName":"Bob","PrimarySmtpAddress":"bob@contoso.com","IsDirSynced":true,"IsExchangeCloudManaged":null,"Guid":"x"}`
	var raw RawRecord
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	row := Normalize(raw)
	if row.IsDirectorySynced == nil || !*row.IsDirectorySynced || row.IsCloudManaged != nil {
		t.Errorf("decoded flags = %s/%s, want true/Unknown", FormatFlag(row.IsDirectorySynced), FormatFlag(row.IsCloudManaged))
	}
}

func TestCache_ReplaceAndGet(t *testing.T) {
	c := NewCache()
	if c.Loaded() || c.Len() != 0 {
		t.Fatal("new cache should be empty and not loaded")
	}

	rows := sampleRows()
	rows = append(rows, MailboxRow{DisplayName: "Ann duplicate", PrimaryAddress: "ANN.SMITH@contoso.com"})
	dropped := c.Replace(rows)
	if dropped != 1 {
		t.Errorf("Replace() dropped = %d, want 1", dropped)
	}
	if c.Len() != len(sampleRows()) {
		t.Errorf("Len() = %d, want %d", c.Len(), len(sampleRows()))
	}
	if !c.Loaded() || c.LoadedAt().IsZero() {
		t.Error("cache should be loaded after Replace")
	}

	got, ok := c.Get("Ann.Smith@Contoso.com")
	if !ok || got.DisplayName != "Ann Smith" {
		t.Errorf("Get() = %+v, %v; want Ann Smith (first occurrence)", got, ok)
	}

	// Replacing wholesale drops the previous snapshot.
	c.Replace(makeRows(3))
	if _, ok := c.Get("ann.smith@contoso.com"); ok {
		t.Error("Replace() kept a row from the previous snapshot")
	}
	if c.Len() != 3 {
		t.Errorf("Len() after reload = %d, want 3", c.Len())
	}
}

func TestCache_PatchInPlace(t *testing.T) {
	c := NewCache()
	c.Replace(sampleRows())

	patched := MailboxRow{
		DisplayName:       "Bob Smith",
		PrimaryAddress:    "BOB@contoso.com",
		IsDirectorySynced: boolPtr(true),
		IsCloudManaged:    boolPtr(true),
	}
	if !c.Patch(patched) {
		t.Fatal("Patch() = false for a cached address")
	}

	rows := c.Rows()
	if rows[1].Status() != StatusOnline {
		t.Errorf("patched row status = %v, want Online", rows[1].Status())
	}
	if rows[0].PrimaryAddress != "ann.smith@contoso.com" || rows[2].PrimaryAddress != "carol.SMITHSON@contoso.com" {
		t.Error("Patch() moved neighbouring rows")
	}

	if c.Patch(MailboxRow{PrimaryAddress: "stranger@contoso.com"}) {
		t.Error("Patch() = true for an address outside the snapshot")
	}
	if c.Len() != len(sampleRows()) {
		t.Errorf("Patch() changed the row count to %d", c.Len())
	}
}

func TestCache_RowsIsACopy(t *testing.T) {
	c := NewCache()
	c.Replace(sampleRows())

	rows := c.Rows()
	*rows[0].IsCloudManaged = false
	rows[0].DisplayName = "changed"

	again := c.Rows()
	if again[0].DisplayName != "Ann Smith" || again[0].Status() != StatusOnline {
		t.Error("mutating the result of Rows() changed the cache")
	}
}

func TestCache_Clear(t *testing.T) {
	c := NewCache()
	c.Replace(sampleRows())
	c.Clear()
	if c.Len() != 0 || c.Loaded() {
		t.Errorf("after Clear(): Len=%d Loaded=%v", c.Len(), c.Loaded())
	}
	if _, ok := c.Get("bob@contoso.com"); ok {
		t.Error("Get() found a row after Clear()")
	}
}
