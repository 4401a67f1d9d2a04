package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Well-known Solana program IDs
var (
	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

// USDCDecimals is the number of base-unit decimals of USDC on Solana.
const USDCDecimals = 6

// instruction is a program invocation with account indices resolved to ints.
// Top-level and inner instructions are decoded into the same shape.
type instruction struct {
	programIndex int
	accounts     []int
	data         []byte
	inner        bool
}

// tokenTransfer is a decoded SPL Transfer or TransferChecked instruction.
type tokenTransfer struct {
	program     solana.PublicKey
	kind        uint8
	source      solana.PublicKey
	destination solana.PublicKey
	authority   solana.PublicKey
	mint        *solana.PublicKey // only TransferChecked carries the mint
	amount      uint64
	inner       bool
}

// resolveAccountKeys returns the full account key list for the transaction,
// including addresses loaded from lookup tables for versioned transactions.
func resolveAccountKeys(tx *solana.Transaction, meta *rpc.TransactionMeta) []solana.PublicKey {
	keys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}
	return keys
}

// collectInstructions returns all top-level instructions followed by all
// inner instructions in the order the node reported them.
func collectInstructions(tx *solana.Transaction, meta *rpc.TransactionMeta) []instruction {
	var out []instruction

	for _, ci := range tx.Message.Instructions {
		ix := instruction{programIndex: int(ci.ProgramIDIndex), data: ci.Data}
		for _, a := range ci.Accounts {
			ix.accounts = append(ix.accounts, int(a))
		}
		out = append(out, ix)
	}

	if meta == nil {
		return out
	}

	for _, group := range meta.InnerInstructions {
		for _, ci := range group.Instructions {
			ix := instruction{programIndex: int(ci.ProgramIDIndex), data: ci.Data, inner: true}
			for _, a := range ci.Accounts {
				ix.accounts = append(ix.accounts, int(a))
			}
			out = append(out, ix)
		}
	}

	return out
}

// findTokenTransfer returns the first SPL token transfer in scan order.
func findTokenTransfer(keys []solana.PublicKey, instructions []instruction) (*tokenTransfer, bool) {
	for _, ix := range instructions {
		if ix.programIndex < 0 || ix.programIndex >= len(keys) {
			continue
		}
		program := keys[ix.programIndex]
		if !program.Equals(TokenProgramID) && !program.Equals(Token2022ProgramID) {
			continue
		}
		transfer, err := decodeTokenTransfer(ix, keys)
		if err != nil {
			continue
		}
		transfer.program = program
		return transfer, true
	}
	return nil, false
}

// decodeTokenTransfer decodes an SPL Token Transfer or TransferChecked instruction.
func decodeTokenTransfer(ix instruction, keys []solana.PublicKey) (*tokenTransfer, error) {
	if len(ix.data) == 0 {
		return nil, fmt.Errorf("empty instruction data")
	}

	key := func(pos int) (solana.PublicKey, error) {
		if pos >= len(ix.accounts) {
			return solana.PublicKey{}, fmt.Errorf("missing account %d", pos)
		}
		idx := ix.accounts[pos]
		if idx < 0 || idx >= len(keys) {
			return solana.PublicKey{}, fmt.Errorf("account index %d out of bounds", idx)
		}
		return keys[idx], nil
	}

	t := &tokenTransfer{kind: ix.data[0], inner: ix.inner}

	switch t.kind {
	case TokenProgramTransferInstruction:
		// [0] = 3, [1..9] = amount
		// accounts: [source, destination, authority]
		if len(ix.data) < 9 {
			return nil, fmt.Errorf("transfer instruction data too short")
		}
		t.amount = binary.LittleEndian.Uint64(ix.data[1:9])

		var err error
		if t.source, err = key(0); err != nil {
			return nil, err
		}
		if t.destination, err = key(1); err != nil {
			return nil, err
		}
		if t.authority, err = key(2); err != nil {
			return nil, err
		}
		return t, nil

	case TokenProgramTransferCheckedInstruction:
		// [0] = 12, [1..9] = amount, [9] = decimals
		// accounts: [source, mint, destination, authority]
		if len(ix.data) < 10 {
			return nil, fmt.Errorf("transferChecked instruction data too short")
		}
		t.amount = binary.LittleEndian.Uint64(ix.data[1:9])

		var err error
		if t.source, err = key(0); err != nil {
			return nil, err
		}
		mint, err := key(1)
		if err != nil {
			return nil, err
		}
		t.mint = &mint
		if t.destination, err = key(2); err != nil {
			return nil, err
		}
		if t.authority, err = key(3); err != nil {
			return nil, err
		}
		return t, nil

	default:
		return nil, fmt.Errorf("not a transfer instruction: type %d", t.kind)
	}
}
