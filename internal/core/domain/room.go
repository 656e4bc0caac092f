package domain

// Member is a connection's participation in a room.
type Member struct {
	Name         string       `json:"name"`
	ConnectionID ConnectionID `json:"connectionId"`
}

// Room is only ever touched from the hub loop, so it carries no lock.
type Room struct {
	Name        string
	Members     []Member
	Broadcaster ConnectionID
}

func NewRoom(name string) *Room {
	return &Room{Name: name}
}

func (r *Room) Member(id ConnectionID) (Member, bool) {
	for _, m := range r.Members {
		if m.ConnectionID == id {
			return m, true
		}
	}
	return Member{}, false
}

// Add appends m in join order. It reports false when the connection is
// already a member.
func (r *Room) Add(m Member) bool {
	if _, ok := r.Member(m.ConnectionID); ok {
		return false
	}
	r.Members = append(r.Members, m)
	return true
}

func (r *Room) Remove(id ConnectionID) (Member, bool) {
	for i, m := range r.Members {
		if m.ConnectionID == id {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return m, true
		}
	}
	return Member{}, false
}

func (r *Room) Names() []string {
	names := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		names = append(names, m.Name)
	}
	return names
}

func (r *Room) Empty() bool {
	return len(r.Members) == 0
}

func (r *Room) HasBroadcaster() bool {
	return !r.Broadcaster.IsZero()
}

// RoomSnapshot is a copy of a room safe to hand out of the hub loop.
type RoomSnapshot struct {
	Name        string       `json:"name"`
	Members     []Member     `json:"members"`
	Broadcaster ConnectionID `json:"broadcaster,omitempty"`
}

func (r *Room) Snapshot() RoomSnapshot {
	members := make([]Member, len(r.Members))
	copy(members, r.Members)
	return RoomSnapshot{
		Name:        r.Name,
		Members:     members,
		Broadcaster: r.Broadcaster,
	}
}
