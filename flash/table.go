package flash

import "fmt"

// Table is a registry of named partitions, the moral equivalent of a
// partition table handed to the bootloader by the platform layer.
type Table struct {
	parts map[string]*Partition
}

// NewTable creates an empty partition table.
func NewTable() *Table {
	return &Table{parts: make(map[string]*Partition)}
}

// Register adds a partition to the table. Registering two partitions with
// the same name is an error.
func (t *Table) Register(p *Partition) error {
	if _, ok := t.parts[p.Name()]; ok {
		return fmt.Errorf("partition %q: %w", p.Name(), ErrPartitionExists)
	}
	t.parts[p.Name()] = p
	return nil
}

// Find returns the partition registered under name.
func (t *Table) Find(name string) (*Partition, error) {
	p, ok := t.parts[name]
	if !ok {
		return nil, fmt.Errorf("partition %q: %w", name, ErrPartitionNotFound)
	}
	return p, nil
}

// Names returns the registered partition names in unspecified order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.parts))
	for name := range t.parts {
		names = append(names, name)
	}
	return names
}
