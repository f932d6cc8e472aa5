package chat

import (
	"slices"
	"strings"

	"github.com/samber/lo"
)

// Room is a named set of members. A Room held by a Directory always has at
// least one member.
type Room struct {
	Name    string
	members map[ConnID]string
}

func (r *Room) Count() int {
	return len(r.members)
}

// Occupancy is the member count of one room at a point in time.
type Occupancy struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Directory is the authoritative presence state: room name to members and
// their display names. It is not safe for concurrent use.
type Directory struct {
	rooms map[string]*Room
}

func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]*Room)}
}

// NormalizeRoomName trims the name and rejects blank ones.
func NormalizeRoomName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrEmptyRoomName
	}
	return trimmed, nil
}

// EnsureRoom returns the named room, creating it when absent.
func (d *Directory) EnsureRoom(name string) (*Room, error) {
	name, err := NormalizeRoomName(name)
	if err != nil {
		return nil, err
	}
	if room, ok := d.rooms[name]; ok {
		return room, nil
	}
	room := &Room{Name: name, members: make(map[ConnID]string)}
	d.rooms[name] = room
	return room, nil
}

// AddMember inserts or overwrites the membership of id and returns the new
// member count. The room is created if needed.
func (d *Directory) AddMember(room string, id ConnID, displayName string) (int, error) {
	r, err := d.EnsureRoom(room)
	if err != nil {
		return 0, err
	}
	r.members[id] = displayName
	return len(r.members), nil
}

// RemoveMember deletes the membership of id and returns the new count. The
// room is dropped in the same call when nobody is left.
func (d *Directory) RemoveMember(room string, id ConnID) (int, error) {
	r, ok := d.rooms[strings.TrimSpace(room)]
	if !ok {
		return 0, ErrRoomNotFound
	}
	delete(r.members, id)
	count := len(r.members)
	if count == 0 {
		delete(d.rooms, r.Name)
	}
	return count, nil
}

func (d *Directory) MemberCount(room string) int {
	if r, ok := d.rooms[strings.TrimSpace(room)]; ok {
		return len(r.members)
	}
	return 0
}

func (d *Directory) Has(room string) bool {
	_, ok := d.rooms[strings.TrimSpace(room)]
	return ok
}

func (d *Directory) IsMember(room string, id ConnID) bool {
	_, ok := d.DisplayName(room, id)
	return ok
}

// DisplayName returns the name id joined room under.
func (d *Directory) DisplayName(room string, id ConnID) (string, bool) {
	r, ok := d.rooms[strings.TrimSpace(room)]
	if !ok {
		return "", false
	}
	name, ok := r.members[id]
	return name, ok
}

// Members returns the member ids of room, sorted.
func (d *Directory) Members(room string) []ConnID {
	r, ok := d.rooms[strings.TrimSpace(room)]
	if !ok {
		return nil
	}
	ids := lo.Keys(r.members)
	slices.Sort(ids)
	return ids
}

func (d *Directory) Len() int {
	return len(d.rooms)
}

// Snapshot lists every room with its count, sorted by name.
func (d *Directory) Snapshot() []Occupancy {
	res := lo.MapToSlice(d.rooms, func(name string, r *Room) Occupancy {
		return Occupancy{Name: name, Count: len(r.members)}
	})
	slices.SortFunc(res, func(a, b Occupancy) int {
		return strings.Compare(a.Name, b.Name)
	})
	return res
}
