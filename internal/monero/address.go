package monero

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidAddress        = errors.New("invalid address")
	ErrInvalidAccountAddress = errors.New("invalid account address")
)

// AddressKind distinguishes the three public address formats.
type AddressKind uint8

const (
	StandardAddress AddressKind = iota
	SubAddress
	IntegratedAddress
)

func (k AddressKind) String() string {
	switch k {
	case StandardAddress:
		return "standard"
	case SubAddress:
		return "subaddress"
	case IntegratedAddress:
		return "integrated"
	default:
		return fmt.Sprintf("address_kind(%d)", uint8(k))
	}
}

type addressPrefix struct {
	kind    AddressKind
	network Network
}

var addressPrefixes = map[byte]addressPrefix{
	18: {StandardAddress, Mainnet},
	53: {StandardAddress, Testnet},
	24: {StandardAddress, Stagenet},

	42: {SubAddress, Mainnet},
	63: {SubAddress, Testnet},
	36: {SubAddress, Stagenet},

	19: {IntegratedAddress, Mainnet},
	54: {IntegratedAddress, Testnet},
	25: {IntegratedAddress, Stagenet},
}

const (
	checksumSize  = 4
	paymentIDSize = 8
)

// PublicAddress is a parsed Monero address.
type PublicAddress struct {
	Address        string
	Network        Network
	Kind           AddressKind
	SpendPublicKey PublicKey
	ViewPublicKey  PublicKey

	// PaymentID is set for integrated addresses only.
	PaymentID fn.Option[uint64]
}

// ParsePublicAddress decodes and validates a base58 address string,
// including its Keccak-256 checksum.
func ParsePublicAddress(s string) (PublicAddress, error) {
	decoded, err := DecodeBase58(s)
	if err != nil {
		return PublicAddress{}, fmt.Errorf("%w: base58 decoding error: %v", ErrInvalidAddress, err)
	}
	if len(decoded) <= checksumSize {
		return PublicAddress{}, fmt.Errorf("%w: address too short", ErrInvalidAddress)
	}

	prefix, ok := addressPrefixes[decoded[0]]
	if !ok {
		return PublicAddress{}, fmt.Errorf("%w: unrecognized address prefix %d", ErrInvalidAddress, decoded[0])
	}

	expectedLen := 1 + 2*KeySize + checksumSize
	if prefix.kind == IntegratedAddress {
		expectedLen += paymentIDSize
	}
	if len(decoded) != expectedLen {
		return PublicAddress{}, fmt.Errorf("%w: %s address must decode to %d bytes, got %d",
			ErrInvalidAddress, prefix.kind, expectedLen, len(decoded))
	}

	body := decoded[:len(decoded)-checksumSize]
	if !bytes.Equal(keccak256(body)[:checksumSize], decoded[len(body):]) {
		return PublicAddress{}, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}

	addr := PublicAddress{
		Address:   s,
		Network:   prefix.network,
		Kind:      prefix.kind,
		PaymentID: fn.None[uint64](),
	}
	copy(addr.SpendPublicKey[:], body[1:1+KeySize])
	copy(addr.ViewPublicKey[:], body[1+KeySize:1+2*KeySize])
	if prefix.kind == IntegratedAddress {
		addr.PaymentID = fn.Some(binary.BigEndian.Uint64(body[1+2*KeySize:]))
	}

	return addr, nil
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

func (a PublicAddress) IsSubAddress() bool {
	return a.Kind == SubAddress
}

func (a PublicAddress) String() string {
	return a.Address
}

// AccountAddress is a wallet address tagged with its account and
// subaddress indices.
type AccountAddress struct {
	PublicAddress
	AccountIndex    int
	SubAddressIndex int
}

// NewAccountAddress enforces that only 0/0 is a standard address.
func NewAccountAddress(addr PublicAddress, accountIndex, subAddressIndex int) (AccountAddress, error) {
	switch addr.Kind {
	case StandardAddress:
		if accountIndex != 0 || subAddressIndex != 0 {
			return AccountAddress{}, fmt.Errorf("%w: only the account address 0/0 is a standard address",
				ErrInvalidAccountAddress)
		}
	case SubAddress:
		if accountIndex < 0 || subAddressIndex < 0 {
			return AccountAddress{}, fmt.Errorf("%w: invalid subaddress indices %d/%d",
				ErrInvalidAccountAddress, accountIndex, subAddressIndex)
		}
	default:
		return AccountAddress{}, fmt.Errorf("%w: unsupported address type %s", ErrInvalidAccountAddress, addr.Kind)
	}

	return AccountAddress{
		PublicAddress:   addr,
		AccountIndex:    accountIndex,
		SubAddressIndex: subAddressIndex,
	}, nil
}

// ParseAccountAddress parses the "account/subaddress/address" form the
// wallet engine uses to list its addresses.
func ParseAccountAddress(s string) (AccountAddress, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return AccountAddress{}, fmt.Errorf("%w: %q", ErrInvalidAccountAddress, s)
	}
	accountIndex, err := strconv.Atoi(parts[0])
	if err != nil {
		return AccountAddress{}, fmt.Errorf("%w: account index: %v", ErrInvalidAccountAddress, err)
	}
	subAddressIndex, err := strconv.Atoi(parts[1])
	if err != nil {
		return AccountAddress{}, fmt.Errorf("%w: subaddress index: %v", ErrInvalidAccountAddress, err)
	}
	addr, err := ParsePublicAddress(parts[2])
	if err != nil {
		return AccountAddress{}, err
	}
	return NewAccountAddress(addr, accountIndex, subAddressIndex)
}

func (a AccountAddress) IsPrimaryAddress() bool {
	return a.SubAddressIndex == 0
}

func (a AccountAddress) String() string {
	return fmt.Sprintf("%d/%d/%s", a.AccountIndex, a.SubAddressIndex, a.Address)
}

// WalletAccount groups the addresses of one account, ordered by
// subaddress index.
type WalletAccount struct {
	AccountIndex int
	Addresses    []AccountAddress
}

// AggregateAccounts parses the engine's address list and groups it by
// account, ordered by account index.
func AggregateAccounts(addressList []string) ([]WalletAccount, error) {
	byAccount := make(map[int][]AccountAddress)
	for _, s := range addressList {
		addr, err := ParseAccountAddress(s)
		if err != nil {
			return nil, err
		}
		byAccount[addr.AccountIndex] = append(byAccount[addr.AccountIndex], addr)
	}

	accounts := make([]WalletAccount, 0, len(byAccount))
	for idx, addrs := range byAccount {
		slices.SortFunc(addrs, func(a, b AccountAddress) int {
			return a.SubAddressIndex - b.SubAddressIndex
		})
		accounts = append(accounts, WalletAccount{AccountIndex: idx, Addresses: addrs})
	}
	slices.SortFunc(accounts, func(a, b WalletAccount) int {
		return a.AccountIndex - b.AccountIndex
	})
	return accounts, nil
}

// FindAddressByIndex looks up the address with the given indices.
func FindAddressByIndex(accounts []WalletAccount, accountIndex, subAddressIndex int) fn.Option[AccountAddress] {
	for _, account := range accounts {
		if account.AccountIndex != accountIndex {
			continue
		}
		for _, addr := range account.Addresses {
			if addr.SubAddressIndex == subAddressIndex {
				return fn.Some(addr)
			}
		}
	}
	return fn.None[AccountAddress]()
}
