package vectorindex

import "strconv"

// Tag keys carried by record fragments. The text tag is the back-pointer used
// to resolve a hit to the record that holds the text.
const (
	TagRecordID = "record_id"
	TagField    = "field"
	TagText     = "text"
)

// FragmentID names the entry for a whole field (chunk < 0) or one of its chunks
func FragmentID(recordID, field string, chunk int) string {
	id := recordID + "#" + field
	if chunk >= 0 {
		id += "#" + strconv.Itoa(chunk)
	}
	return id
}

// FragmentTags builds the tags stored with a fragment
func FragmentTags(recordID, field, text string) map[string]string {
	return map[string]string{
		TagRecordID: recordID,
		TagField:    field,
		TagText:     text,
	}
}

// RemoveRecord drops every fragment owned by recordID and returns the count
func (idx *Index) RemoveRecord(recordID string) int {
	return idx.RemoveWhere(func(tags map[string]string) bool {
		return tags[TagRecordID] == recordID
	})
}

// RemoveField drops the fragments of one field of a record
func (idx *Index) RemoveField(recordID, field string) int {
	return idx.RemoveWhere(func(tags map[string]string) bool {
		return tags[TagRecordID] == recordID && tags[TagField] == field
	})
}
