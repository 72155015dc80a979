package activity

import (
	"crypto"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
)

// PublicKey is the key an actor publishes for HTTP signatures.
type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// Parse decodes the PEM block, accepting PKIX or PKCS1 encodings.
func (k *PublicKey) Parse() (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(k.PublicKeyPem))
	if block == nil {
		return nil, errors.New("no PEM block in public key")
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key %s: %w", k.ID, err)
	}
	return key, nil
}

// Actor is a Person, Service, Application, Group or Organization.
type Actor struct {
	Base
	PreferredUsername         string
	Inbox                     Reference[*Collection]
	Outbox                    Reference[*Collection]
	Followers                 Reference[*Collection]
	Following                 Reference[*Collection]
	PublicKey                 *PublicKey
	ManuallyApprovesFollowers bool
}

// NewActor creates an actor of one of the actor kinds.
func NewActor(kind string) (*Actor, error) {
	name, fam, known := LookupKind(kind)
	if !known || fam != ActorFamily {
		return nil, invalid("[%s] is not an actor type", kind)
	}
	a := &Actor{Base: newBase(name)}
	a.Context = LDContext{Context, SecurityContext}
	return a, nil
}

func NewPerson(id string) *Actor {
	a, _ := NewActor(PersonType)
	a.ID = id
	return a
}

// ParsePublicKey returns the actor's published key.
func (a *Actor) ParsePublicKey() (crypto.PublicKey, error) {
	if a.PublicKey == nil || a.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor %s has no public key", a.ID)
	}
	return a.PublicKey.Parse()
}

type actorWire struct {
	baseWire
	PreferredUsername         string                  `json:"preferredUsername,omitempty"`
	Inbox                     *Reference[*Collection] `json:"inbox,omitempty"`
	Outbox                    *Reference[*Collection] `json:"outbox,omitempty"`
	Followers                 *Reference[*Collection] `json:"followers,omitempty"`
	Following                 *Reference[*Collection] `json:"following,omitempty"`
	PublicKey                 *PublicKey              `json:"publicKey,omitempty"`
	ManuallyApprovesFollowers bool                    `json:"manuallyApprovesFollowers,omitempty"`
}

func (a Actor) MarshalJSON() ([]byte, error) {
	return json.Marshal(actorWire{
		baseWire:                  a.Base.toWire(),
		PreferredUsername:         a.PreferredUsername,
		Inbox:                     refPtr(a.Inbox),
		Outbox:                    refPtr(a.Outbox),
		Followers:                 refPtr(a.Followers),
		Following:                 refPtr(a.Following),
		PublicKey:                 a.PublicKey,
		ManuallyApprovesFollowers: a.ManuallyApprovesFollowers,
	})
}

func (a *Actor) UnmarshalJSON(b []byte) error {
	var w actorWire
	if err := json.Unmarshal(b, &w); err != nil {
		return asValidation(err)
	}
	if err := a.Base.fromWire(&w.baseWire, ActorFamily); err != nil {
		return err
	}
	if w.PublicKey != nil {
		if err := checkURI(w.PublicKey.ID); err != nil {
			return err
		}
	}
	a.PreferredUsername = w.PreferredUsername
	a.Inbox = refVal(w.Inbox)
	a.Outbox = refVal(w.Outbox)
	a.Followers = refVal(w.Followers)
	a.Following = refVal(w.Following)
	a.PublicKey = w.PublicKey
	a.ManuallyApprovesFollowers = w.ManuallyApprovesFollowers
	return nil
}
