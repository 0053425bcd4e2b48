package telegram

import (
	"strconv"
	"strings"
	"sync"

	"github.com/go-telegram/bot/models"

	"github.com/suspectuso/tipbot/internal/commands"
)

// Directory remembers the users the bot has seen so mentions can be turned
// into account ids. Telegram offers no username lookup for bots, so a user
// can only be tipped by @username after they have written in a chat the bot
// is in.
type Directory struct {
	mu     sync.RWMutex
	byID   map[string]commands.Member
	byName map[string]string // lowercase username -> id
}

func NewDirectory() *Directory {
	return &Directory{
		byID:   make(map[string]commands.Member),
		byName: make(map[string]string),
	}
}

// Record stores or refreshes a user.
func (d *Directory) Record(u *models.User) {
	if u == nil || u.IsBot || u.ID == 0 {
		return
	}

	id := strconv.FormatInt(u.ID, 10)
	m := commands.Member{ID: id, Name: displayName(u)}

	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.byID[id]; ok && old.Name != m.Name {
		if prev, ok := strings.CutPrefix(old.Name, "@"); ok && d.byName[strings.ToLower(prev)] == id {
			delete(d.byName, strings.ToLower(prev))
		}
	}
	d.byID[id] = m
	if u.Username != "" {
		d.byName[strings.ToLower(u.Username)] = id
	}
}

// Lookup resolves "<@id>" or "@username".
func (d *Directory) Lookup(token string) (commands.Member, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if strings.HasPrefix(token, "<@") && strings.HasSuffix(token, ">") {
		m, ok := d.byID[token[2:len(token)-1]]
		return m, ok
	}
	if name, ok := strings.CutPrefix(token, "@"); ok {
		id, ok := d.byName[strings.ToLower(name)]
		if !ok {
			return commands.Member{}, false
		}
		m, ok := d.byID[id]
		return m, ok
	}
	return commands.Member{}, false
}

// Name returns the display name of id, or "" when unknown.
func (d *Directory) Name(id string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byID[id].Name
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

func displayName(u *models.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return strconv.FormatInt(u.ID, 10)
	}
	return name
}
