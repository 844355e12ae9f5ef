package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// revocationTag is appended to the fingerprint input of revocations so that
// issuing and revoking the same content never share a fingerprint.
const revocationTag = "revoking"

// Issuer is the public identity of a party that issues and revokes
// credentials. Its private key is never part of the record.
type Issuer struct {
	ID              uuid.UUID
	Name            string
	VerificationKey ed25519.PublicKey
}

type issuerJSON struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	VerificationKey string    `json:"verification_key"`
}

// NewIssuer creates an issuer with a fresh Ed25519 key pair. The caller keeps
// the returned private key out of the ledger.
func NewIssuer(name string) (Issuer, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Issuer{}, nil, fmt.Errorf("generate issuer key: %w", err)
	}
	return Issuer{ID: uuid.New(), Name: name, VerificationKey: pub}, priv, nil
}

func (i Issuer) MarshalJSON() ([]byte, error) {
	return json.Marshal(issuerJSON{
		ID:              i.ID,
		Name:            i.Name,
		VerificationKey: hex.EncodeToString(i.VerificationKey),
	})
}

func (i *Issuer) UnmarshalJSON(data []byte) error {
	var raw issuerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	key, err := hex.DecodeString(raw.VerificationKey)
	if err != nil {
		return fmt.Errorf("decode verification key: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: got %d", ErrKeyLength, len(key))
	}
	i.ID = raw.ID
	i.Name = raw.Name
	i.VerificationKey = ed25519.PublicKey(key)
	return nil
}

func (i Issuer) String() string {
	return fmt.Sprintf("%s (%s)", i.Name, i.ID)
}

func (i Issuer) digest(d *digest) {
	d.field(i.ID[:])
	d.str(i.Name)
	d.field(i.VerificationKey)
}

// Subject is the entity an attribute is asserted about.
type Subject struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Surname string    `json:"surname"`
}

func NewSubject(name, surname string) Subject {
	return Subject{ID: uuid.New(), Name: name, Surname: surname}
}

func (s Subject) String() string {
	return fmt.Sprintf("%s %s (%s)", s.Name, s.Surname, s.ID)
}

func (s Subject) digest(d *digest) {
	d.field(s.ID[:])
	d.str(s.Name)
	d.str(s.Surname)
}

// Attribute is the asserted claim, e.g. ("driving-licence-category", "B").
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (a Attribute) digest(d *digest) {
	d.str(a.Name)
	d.str(a.Value)
}

var ErrValidDuration = errors.New("ledger: invalid validity window")

// ValidDuration is an inclusive validity window. A nil To means the window
// never closes. The ledger records it but does not enforce it. From must be
// set; a window with a zero From does not encode.
type ValidDuration struct {
	From Date  `json:"from"`
	To   *Date `json:"to,omitempty"`
}

// Validate checks that From is set and To, if present, is not before From.
func (v ValidDuration) Validate() error {
	if v.From.IsZero() {
		return fmt.Errorf("%w: start date is not set", ErrValidDuration)
	}
	if v.To != nil && v.To.Before(v.From) {
		return fmt.Errorf("%w: end date %s is before start date %s", ErrValidDuration, v.To, v.From)
	}
	return nil
}

// Covers reports whether day lies inside the window.
func (v ValidDuration) Covers(day Date) bool {
	if day.Before(v.From) {
		return false
	}
	return v.To == nil || !v.To.Before(day)
}

func (v ValidDuration) String() string {
	if v.To == nil {
		return v.From.String() + " .. indefinite"
	}
	return v.From.String() + " .. " + v.To.String()
}

func (v ValidDuration) digest(d *digest) {
	d.str(v.From.String())
	d.flag(v.To != nil)
	if v.To != nil {
		d.str(v.To.String())
	}
}

// Credential is the full plaintext assertion. It is never stored on-chain;
// only its fingerprints and their signatures are.
type Credential struct {
	ID            uuid.UUID     `json:"id"`
	Attribute     Attribute     `json:"attribute"`
	Issuer        Issuer        `json:"issuer"`
	Subject       Subject       `json:"subject"`
	ValidDuration ValidDuration `json:"valid_duration"`
}

func NewCredential(attr Attribute, issuer Issuer, subject Subject, valid ValidDuration) Credential {
	return Credential{
		ID:            uuid.New(),
		Attribute:     attr,
		Issuer:        issuer,
		Subject:       subject,
		ValidDuration: valid,
	}
}

// Fingerprint digests the credential content. The revocation flag selects
// between the issuance and the revocation fingerprint of the same content.
func (c Credential) Fingerprint(revocation bool) Hash {
	d := newDigest()
	d.field(c.ID[:])
	c.Attribute.digest(d)
	c.Issuer.digest(d)
	c.Subject.digest(d)
	c.ValidDuration.digest(d)
	if revocation {
		d.str(revocationTag)
	}
	return d.sum()
}

func (c Credential) String() string {
	return fmt.Sprintf("%s=%s for %s %s by %s, valid %s",
		c.Attribute.Name, c.Attribute.Value, c.Subject.Name, c.Subject.Surname, c.Issuer.Name, c.ValidDuration)
}
