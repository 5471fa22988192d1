package table

import "shaledb"

// NewMergingIterator merges the children into one ordered stream under
// cmp. Entries with equal keys surface in child order.
func NewMergingIterator(cmp shaledb.Comparator, children []shaledb.Iterator) shaledb.Iterator {
	if len(children) == 1 {
		return children[0]
	}
	return &mergingIterator{
		cmp:      cmp,
		children: children,
		current:  -1,
	}
}

type mergingIterator struct {
	cmp      shaledb.Comparator
	children []shaledb.Iterator
	current  int
	// reverse records whether the children are positioned for reverse
	// (true) or forward (false) iteration.
	reverse bool
}

func (m *mergingIterator) Valid() bool { return m.current >= 0 }

func (m *mergingIterator) SeekToFirst() {
	for _, c := range m.children {
		c.SeekToFirst()
	}
	m.reverse = false
	m.findSmallest()
}

func (m *mergingIterator) SeekToLast() {
	for _, c := range m.children {
		c.SeekToLast()
	}
	m.reverse = true
	m.findLargest()
}

func (m *mergingIterator) Seek(target []byte) {
	for _, c := range m.children {
		c.Seek(target)
	}
	m.reverse = false
	m.findSmallest()
}

func (m *mergingIterator) Next() {
	if !m.Valid() {
		panic("mergingIterator: Next on invalid iterator")
	}
	if m.reverse {
		// Children other than the current one sit before the current key;
		// reposition them just after it.
		key := m.Key()
		for i, c := range m.children {
			if i == m.current {
				continue
			}
			c.Seek(key)
			if c.Valid() && m.cmp.Compare(key, c.Key()) == 0 {
				c.Next()
			}
		}
		m.reverse = false
	}
	m.children[m.current].Next()
	m.findSmallest()
}

func (m *mergingIterator) Prev() {
	if !m.Valid() {
		panic("mergingIterator: Prev on invalid iterator")
	}
	if !m.reverse {
		key := m.Key()
		for i, c := range m.children {
			if i == m.current {
				continue
			}
			c.Seek(key)
			if c.Valid() {
				c.Prev()
			} else {
				c.SeekToLast()
			}
		}
		m.reverse = true
	}
	m.children[m.current].Prev()
	m.findLargest()
}

func (m *mergingIterator) findSmallest() {
	m.current = -1
	for i, c := range m.children {
		if !c.Valid() {
			continue
		}
		if m.current < 0 || m.cmp.Compare(c.Key(), m.children[m.current].Key()) < 0 {
			m.current = i
		}
	}
}

func (m *mergingIterator) findLargest() {
	m.current = -1
	for i := len(m.children) - 1; i >= 0; i-- {
		c := m.children[i]
		if !c.Valid() {
			continue
		}
		if m.current < 0 || m.cmp.Compare(c.Key(), m.children[m.current].Key()) > 0 {
			m.current = i
		}
	}
}

func (m *mergingIterator) Key() []byte {
	return m.children[m.current].Key()
}

func (m *mergingIterator) Value() []byte {
	return m.children[m.current].Value()
}

func (m *mergingIterator) Status() error {
	for _, c := range m.children {
		if err := c.Status(); err != nil {
			return err
		}
	}
	return nil
}

func (m *mergingIterator) Close() error {
	var err error
	for _, c := range m.children {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
