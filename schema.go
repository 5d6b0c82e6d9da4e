package shelfdb

import (
	"maps"
)

// Config declares the schema of a store.
type Config struct {
	// Properties are the validation rules, by field.
	Properties map[string]Rule
	// HasMany maps a field holding a list of items to the store the items
	// are kept in. The parent keeps their ids under "<field>_ids".
	HasMany map[string]Target
	// HasOne maps a field holding one item to its store. The parent keeps
	// its id under "<field>_id".
	HasOne map[string]Target
	// Meta adds creation and update times under "$info" on every write.
	Meta bool
}

func (c Config) empty() bool {
	return len(c.Properties) == 0 && len(c.HasMany) == 0 && len(c.HasOne) == 0 && !c.Meta
}

// Target is the store a relation points to, either by name or by handle.
type Target struct {
	name  string
	store *Store
}

// ByName refers to a store through the registry. A store that does not
// exist yet is created without a schema.
func ByName(name string) Target {
	return Target{name: name}
}

// ByHandle refers to a store directly.
func ByHandle(s *Store) Target {
	return Target{name: s.Name(), store: s}
}

func (t Target) Name() string {
	return t.name
}

type schema struct {
	validates map[string]Rule
	hasMany   map[string]*Store
	hasOne    map[string]*Store
	meta      bool
}

func newSchema() schema {
	return schema{
		validates: make(map[string]Rule),
		hasMany:   make(map[string]*Store),
		hasOne:    make(map[string]*Store),
	}
}

// configure applies cfg, resolving every relation target first so a bad
// target leaves the schema untouched.
func (s *Store) configure(cfg Config) error {
	hasMany, err := s.registry.resolveAll(cfg.HasMany)
	if err != nil {
		return err
	}
	hasOne, err := s.registry.resolveAll(cfg.HasOne)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.schema.validates, cfg.Properties)
	maps.Copy(s.schema.hasMany, hasMany)
	maps.Copy(s.schema.hasOne, hasOne)
	s.schema.meta = s.schema.meta || cfg.Meta
	return nil
}

// HasMany declares a one-to-many relation on field.
func (s *Store) HasMany(field string, target Target) error {
	return s.configure(Config{HasMany: map[string]Target{field: target}})
}

// HasOne declares a one-to-one relation on field.
func (s *Store) HasOne(field string, target Target) error {
	return s.configure(Config{HasOne: map[string]Target{field: target}})
}

// Validates sets the rule of field, replacing any previous one.
func (s *Store) Validates(field string, rule Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema.validates[field] = rule
}

// Relations returns the target store names of the declared relations.
func (s *Store) Relations() (hasMany, hasOne map[string]string) {
	many, one := s.relationTargets()
	hasMany = make(map[string]string, len(many))
	for field, t := range many {
		hasMany[field] = t.name
	}
	hasOne = make(map[string]string, len(one))
	for field, t := range one {
		hasOne[field] = t.name
	}
	return hasMany, hasOne
}

func (s *Store) relationTargets() (hasMany, hasOne map[string]*Store) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.schema.hasMany), maps.Clone(s.schema.hasOne)
}

func (s *Store) rules() map[string]Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.schema.validates)
}

func (s *Store) tracksMeta() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema.meta
}
