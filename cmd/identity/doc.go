// Package identity owns Passage's user records and their links to external
// identity providers: registration, login lookups, and the atomic
// find-or-create resolution used by social login.
package identity
