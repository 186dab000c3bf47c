package diff

// Stats contains the number of changes of a diff
type Stats struct {
	FilesChanged int
	Insertions   int
	Deletions    int
}

// Stats returns the number of files changed, and the number of lines
// added and removed. Binary and unreadable files count as changed
// but don't have lines
func (d *Diff) Stats() (Stats, error) {
	stats := Stats{}
	for i := range d.deltas {
		delta := d.deltas[i]
		switch delta.Status {
		case StatusUnmodified, StatusIgnored:
			continue
		}
		stats.FilesChanged++
		// the content of the file cannot be read
		if delta.Status == StatusUnreadable {
			continue
		}

		oldData, newData, err := d.loadDelta(&delta)
		if err != nil {
			return Stats{}, err
		}
		if delta.Flags&FlagBinary != 0 {
			continue
		}
		ins, del := countChanges(d.lineScript(oldData, newData))
		stats.Insertions += ins
		stats.Deletions += del
	}
	return stats, nil
}
