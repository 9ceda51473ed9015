package vkdriver

// handles maps the opaque IDs handed out to the core to Vulkan handles.
type handles[ID ~uint64, H any] struct {
	next  ID
	items map[ID]H
}

func newHandles[ID ~uint64, H any]() *handles[ID, H] {
	return &handles[ID, H]{items: make(map[ID]H)}
}

// add registers h and returns its ID. IDs start at 1.
func (t *handles[ID, H]) add(h H) ID {
	t.next++
	t.items[t.next] = h
	return t.next
}

// get returns the handle for id and the zero handle for unknown IDs.
func (t *handles[ID, H]) get(id ID) H {
	return t.items[id]
}

// all returns the handles of ids in the same order.
func (t *handles[ID, H]) all(ids []ID) []H {
	out := make([]H, len(ids))
	for i, id := range ids {
		out[i] = t.items[id]
	}
	return out
}

// take removes id and returns its handle.
func (t *handles[ID, H]) take(id ID) (H, bool) {
	h, ok := t.items[id]
	if ok {
		delete(t.items, id)
	}
	return h, ok
}

func (t *handles[ID, H]) len() int {
	return len(t.items)
}
