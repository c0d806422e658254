package ueba

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"logsentry/core"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// peerContext returns a copy of the entity's peer group, or nil
func (e *Engine) peerContext(key profileKey) *core.PeerGroup {
	e.groupsMu.RLock()
	defer e.groupsMu.RUnlock()
	groupID, ok := e.membership[key]
	if !ok {
		return nil
	}
	group, ok := e.groups[groupID]
	if !ok {
		return nil
	}
	clone := group.Clone()
	return &clone
}

func (e *Engine) validatePeerGroup(group *core.PeerGroup) error {
	ve := core.NewValidationError("peer group")
	if err := e.validate.Struct(group); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				ve.Add("%s failed %s validation", fe.Namespace(), fe.Tag())
			}
		} else {
			ve.Add("%v", err)
		}
	}
	if strings.TrimSpace(group.Name) == "" && !ve.HasProblems() {
		ve.Add("name is required")
	}
	return ve.OrNil()
}

// CreatePeerGroup stores a new group. Listed members are assigned as user
// entities, moving them out of any previous group.
func (e *Engine) CreatePeerGroup(group core.PeerGroup) (core.PeerGroup, error) {
	group = group.Clone()
	if err := e.validatePeerGroup(&group); err != nil {
		return core.PeerGroup{}, err
	}
	group.ID = uuid.New().String()
	clearPeerAverages(&group.Baseline)
	members := group.Members
	group.Members = nil

	e.groupsMu.Lock()
	e.groups[group.ID] = &group
	for _, id := range members {
		e.assignLocked(group.ID, profileKey{entityType: core.EntityTypeUser, entityID: id})
	}
	out := group.Clone()
	e.groupsMu.Unlock()

	e.logger.Infow("Peer group created", "id", out.ID, "name", out.Name, "members", len(out.Members))
	return e.withPeerAverages(out), nil
}

// UpdatePeerGroup replaces a group's name and baseline. Membership is
// changed only through AssignPeer and RemovePeer.
func (e *Engine) UpdatePeerGroup(id string, group core.PeerGroup) (core.PeerGroup, error) {
	group = group.Clone()
	if err := e.validatePeerGroup(&group); err != nil {
		return core.PeerGroup{}, err
	}

	clearPeerAverages(&group.Baseline)

	e.groupsMu.Lock()
	existing, ok := e.groups[id]
	if !ok {
		e.groupsMu.Unlock()
		return core.PeerGroup{}, fmt.Errorf("peer group %s: %w", id, core.ErrNotFound)
	}
	existing.Name = group.Name
	existing.Baseline = group.Baseline
	out := existing.Clone()
	e.groupsMu.Unlock()

	return e.withPeerAverages(out), nil
}

// DeletePeerGroup removes a group and all of its memberships
func (e *Engine) DeletePeerGroup(id string) error {
	e.groupsMu.Lock()
	defer e.groupsMu.Unlock()
	if _, ok := e.groups[id]; !ok {
		return fmt.Errorf("peer group %s: %w", id, core.ErrNotFound)
	}
	delete(e.groups, id)
	for key, groupID := range e.membership {
		if groupID == id {
			delete(e.membership, key)
		}
	}
	e.logger.Infow("Peer group deleted", "id", id)
	return nil
}

// GetPeerGroup returns a copy of one group with its member averages
func (e *Engine) GetPeerGroup(id string) (core.PeerGroup, error) {
	e.groupsMu.RLock()
	group, ok := e.groups[id]
	if !ok {
		e.groupsMu.RUnlock()
		return core.PeerGroup{}, fmt.Errorf("peer group %s: %w", id, core.ErrNotFound)
	}
	out := group.Clone()
	e.groupsMu.RUnlock()
	return e.withPeerAverages(out), nil
}

// ListPeerGroups returns copies of all groups sorted by name
func (e *Engine) ListPeerGroups() []core.PeerGroup {
	e.groupsMu.RLock()
	out := make([]core.PeerGroup, 0, len(e.groups))
	for _, g := range e.groups {
		out = append(out, g.Clone())
	}
	e.groupsMu.RUnlock()

	for i := range out {
		out[i] = e.withPeerAverages(out[i])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// withPeerAverages fills the average risk score, activity volume and
// session duration of a group copy from its members' profiles. Members
// without a profile are left out; the volume and session averages only
// count members that have samples for them. No two locks are held at once.
func (e *Engine) withPeerAverages(group core.PeerGroup) core.PeerGroup {
	e.groupsMu.RLock()
	var keys []profileKey
	for key, groupID := range e.membership {
		if groupID == group.ID {
			keys = append(keys, key)
		}
	}
	e.groupsMu.RUnlock()

	e.mu.RLock()
	states := make([]*profileState, 0, len(keys))
	for _, key := range keys {
		if state, ok := e.profiles[key]; ok {
			states = append(states, state)
		}
	}
	e.mu.RUnlock()

	var risk, volume, session float64
	var volumeN, sessionN int
	for _, state := range states {
		state.mu.Lock()
		b := &state.profile.Baseline
		risk += state.profile.RiskScore
		if b.ActivityVolume.Samples > 0 {
			volume += b.ActivityVolume.Value
			volumeN++
		}
		if b.SessionDuration.Samples > 0 {
			session += b.SessionDuration.Value
			sessionN++
		}
		state.mu.Unlock()
	}

	clearPeerAverages(&group.Baseline)
	if len(states) > 0 {
		group.Baseline.AvgRiskScore = risk / float64(len(states))
	}
	if volumeN > 0 {
		group.Baseline.AvgActivityVolume = volume / float64(volumeN)
	}
	if sessionN > 0 {
		group.Baseline.AvgSessionDuration = session / float64(sessionN)
	}
	return group
}

// clearPeerAverages drops averages supplied by callers; they are derived
func clearPeerAverages(b *core.PeerBaseline) {
	b.AvgRiskScore = 0
	b.AvgActivityVolume = 0
	b.AvgSessionDuration = 0
}

// AssignPeer makes an entity a member of a group. An entity belongs to at
// most one group; assigning moves it.
func (e *Engine) AssignPeer(groupID string, entityType core.EntityType, entityID string) error {
	if entityID == "" {
		return core.NewValidationError("peer assignment", "entity id is required")
	}
	e.groupsMu.Lock()
	defer e.groupsMu.Unlock()
	if _, ok := e.groups[groupID]; !ok {
		return fmt.Errorf("peer group %s: %w", groupID, core.ErrNotFound)
	}
	e.assignLocked(groupID, profileKey{entityType: entityType, entityID: entityID})
	return nil
}

// RemovePeer drops an entity from a group
func (e *Engine) RemovePeer(groupID string, entityType core.EntityType, entityID string) error {
	key := profileKey{entityType: entityType, entityID: entityID}
	e.groupsMu.Lock()
	defer e.groupsMu.Unlock()
	group, ok := e.groups[groupID]
	if !ok {
		return fmt.Errorf("peer group %s: %w", groupID, core.ErrNotFound)
	}
	if e.membership[key] != groupID {
		return fmt.Errorf("%s %s in peer group %s: %w", entityType, entityID, groupID, core.ErrNotFound)
	}
	delete(e.membership, key)
	group.Members = removeString(group.Members, memberName(key))
	return nil
}

// assignLocked records membership. Caller holds groupsMu for writing.
func (e *Engine) assignLocked(groupID string, key profileKey) {
	name := memberName(key)
	if previous, ok := e.membership[key]; ok && previous != groupID {
		if g, ok := e.groups[previous]; ok {
			g.Members = removeString(g.Members, name)
		}
	}
	e.membership[key] = groupID
	group := e.groups[groupID]
	if !containsString(group.Members, name) {
		group.Members = append(group.Members, name)
		sort.Strings(group.Members)
	}
}

// peerGroupOf returns the group id an entity belongs to
func (e *Engine) peerGroupOf(key profileKey) string {
	e.groupsMu.RLock()
	defer e.groupsMu.RUnlock()
	return e.membership[key]
}

// memberName renders a member as "id" for users and "type:id" otherwise
func memberName(key profileKey) string {
	if key.entityType == core.EntityTypeUser {
		return key.entityID
	}
	return string(key.entityType) + ":" + key.entityID
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
