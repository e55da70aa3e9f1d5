package timeline

// NoteRow maps one grid row to a playable pitch.
type NoteRow struct {
	Label string
	Pitch string
}

// defaultRows is the comb of an 18-note movement, lowest tine first. A6 and
// D7 each have two tines.
var defaultRows = []NoteRow{
	{Label: "C5", Pitch: "C5"},
	{Label: "E5", Pitch: "E5"},
	{Label: "F5", Pitch: "F5"},
	{Label: "G5", Pitch: "G5"},
	{Label: "A5", Pitch: "A5"},
	{Label: "A#5", Pitch: "A#5"},
	{Label: "C6", Pitch: "C6"},
	{Label: "D6", Pitch: "D6"},
	{Label: "F6", Pitch: "F6"},
	{Label: "Gb6", Pitch: "Gb6"},
	{Label: "G6", Pitch: "G6"},
	{Label: "G#6", Pitch: "G#6"},
	{Label: "A6", Pitch: "A6"},
	{Label: "A6", Pitch: "A6"},
	{Label: "A#6", Pitch: "A#6"},
	{Label: "C7", Pitch: "C7"},
	{Label: "D7", Pitch: "D7"},
	{Label: "D7", Pitch: "D7"},
}

// DefaultNoteRows returns a copy of the standard 18-row comb.
func DefaultNoteRows() []NoteRow {
	return append([]NoteRow(nil), defaultRows...)
}
