package solana

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testUSDCMint  = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	testOtherMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	memoProgram   = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")
)

// Helper function to create a TransactionResultEnvelope from a Transaction.
// Since TransactionResultEnvelope has unexported fields, we use JSON marshaling.
func makeTransactionEnvelope(tx *solana.Transaction) (*rpc.TransactionResultEnvelope, error) {
	txJSON, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}

	var temp struct {
		Transaction json.RawMessage `json:"transaction"`
	}
	temp.Transaction = txJSON

	envelopeJSON, err := json.Marshal(temp)
	if err != nil {
		return nil, err
	}

	var result rpc.GetTransactionResult
	if err := json.Unmarshal(envelopeJSON, &result); err != nil {
		return nil, err
	}

	return result.Transaction, nil
}

// makeMeta builds transaction metadata the way the node returns it.
func makeMeta(t *testing.T, metaJSON string) *rpc.TransactionMeta {
	t.Helper()
	var meta rpc.TransactionMeta
	require.NoError(t, json.Unmarshal([]byte(metaJSON), &meta))
	return &meta
}

// innerInstructionJSON renders one inner instruction group for makeMeta.
func innerInstructionJSON(index int, programIDIndex int, accounts []int, data []byte) string {
	accts := make([]string, len(accounts))
	for i, a := range accounts {
		accts[i] = fmt.Sprint(a)
	}
	return fmt.Sprintf(`{"index":%d,"instructions":[{"programIdIndex":%d,"accounts":[%s],"data":%q}]}`,
		index, programIDIndex, strings.Join(accts, ","), base58.Encode(data))
}

func transferData(amount uint64) []byte {
	data := make([]byte, 9)
	data[0] = TokenProgramTransferInstruction
	binary.LittleEndian.PutUint64(data[1:9], amount)
	return data
}

func transferCheckedData(amount uint64, decimals uint8) []byte {
	data := make([]byte, 10)
	data[0] = TokenProgramTransferCheckedInstruction
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals
	return data
}

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func TestDecodeTokenTransfer_Transfer(t *testing.T) {
	source, dest, authority := newKey(), newKey(), newKey()
	keys := []solana.PublicKey{authority, source, dest, TokenProgramID}

	got, err := decodeTokenTransfer(instruction{
		programIndex: 3,
		accounts:     []int{1, 2, 0},
		data:         transferData(50_000_000),
	}, keys)

	require.NoError(t, err)
	assert.Equal(t, uint64(50_000_000), got.amount)
	assert.Equal(t, source, got.source)
	assert.Equal(t, dest, got.destination)
	assert.Equal(t, authority, got.authority)
	assert.Nil(t, got.mint, "plain Transfer carries no mint")
}

func TestDecodeTokenTransfer_TransferChecked(t *testing.T) {
	source, dest, authority := newKey(), newKey(), newKey()
	keys := []solana.PublicKey{authority, source, testUSDCMint, dest, TokenProgramID}

	got, err := decodeTokenTransfer(instruction{
		programIndex: 4,
		accounts:     []int{1, 2, 3, 0},
		data:         transferCheckedData(1_000_000, 6),
	}, keys)

	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), got.amount)
	require.NotNil(t, got.mint)
	assert.Equal(t, testUSDCMint, *got.mint)
	assert.Equal(t, dest, got.destination)
	assert.Equal(t, authority, got.authority)
}

func TestDecodeTokenTransfer_Errors(t *testing.T) {
	keys := []solana.PublicKey{newKey(), newKey(), newKey()}

	tests := []struct {
		name string
		ix   instruction
		want string
	}{
		{"empty data", instruction{}, "empty instruction data"},
		{"short transfer", instruction{accounts: []int{0, 1, 2}, data: []byte{3, 1, 2}}, "too short"},
		{"short transferChecked", instruction{accounts: []int{0, 1, 2, 0}, data: []byte{12, 1, 0, 0, 0, 0, 0, 0, 0}}, "too short"},
		{"missing accounts", instruction{accounts: []int{0}, data: transferData(1)}, "missing account"},
		{"index out of bounds", instruction{accounts: []int{0, 9, 1}, data: transferData(1)}, "out of bounds"},
		{"other instruction", instruction{accounts: []int{0, 1}, data: []byte{7, 0, 0}}, "not a transfer instruction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeTokenTransfer(tt.ix, keys)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFindTokenTransfer_FirstMatchWins(t *testing.T) {
	authority, source, destA, destB := newKey(), newKey(), newKey(), newKey()
	keys := []solana.PublicKey{authority, source, destA, destB, TokenProgramID, memoProgram}

	instructions := []instruction{
		{programIndex: 5, accounts: []int{0}, data: []byte("hello")},
		{programIndex: 4, accounts: []int{1, 2, 0}, data: transferData(1_000_000)},
		{programIndex: 4, accounts: []int{1, 3, 0}, data: transferData(2_000_000)},
	}

	got, ok := findTokenTransfer(keys, instructions)
	require.True(t, ok)
	assert.Equal(t, destA, got.destination)
	assert.Equal(t, uint64(1_000_000), got.amount)
	assert.Equal(t, TokenProgramID, got.program)
}

func TestFindTokenTransfer_SkipsNonTokenPrograms(t *testing.T) {
	authority, source, dest := newKey(), newKey(), newKey()
	// Same bytes as a token transfer, but sent to the memo program.
	keys := []solana.PublicKey{authority, source, dest, memoProgram}

	_, ok := findTokenTransfer(keys, []instruction{
		{programIndex: 3, accounts: []int{1, 2, 0}, data: transferData(1_000_000)},
		{programIndex: 42, accounts: []int{1, 2, 0}, data: transferData(1_000_000)},
	})
	assert.False(t, ok)
}

func TestFindTokenTransfer_Token2022(t *testing.T) {
	authority, source, dest := newKey(), newKey(), newKey()
	keys := []solana.PublicKey{authority, source, testUSDCMint, dest, Token2022ProgramID}

	got, ok := findTokenTransfer(keys, []instruction{
		{programIndex: 4, accounts: []int{1, 2, 3, 0}, data: transferCheckedData(5, 6)},
	})
	require.True(t, ok)
	assert.Equal(t, Token2022ProgramID, got.program)
}

func TestCollectInstructions_TopLevelThenInner(t *testing.T) {
	authority, source, dest := newKey(), newKey(), newKey()
	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{authority, source, dest, TokenProgramID, memoProgram},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 4, Accounts: []uint16{0}, Data: []byte("memo")},
			},
		},
	}
	meta := makeMeta(t, `{"err":null,"innerInstructions":[`+
		innerInstructionJSON(0, 3, []int{1, 2, 0}, transferData(7))+`]}`)

	instructions := collectInstructions(tx, meta)
	require.Len(t, instructions, 2)
	assert.False(t, instructions[0].inner)
	assert.True(t, instructions[1].inner)
	assert.Equal(t, 3, instructions[1].programIndex)
	assert.Equal(t, []int{1, 2, 0}, instructions[1].accounts)
	assert.Equal(t, transferData(7), instructions[1].data)
}

func TestResolveAccountKeys_LoadedAddresses(t *testing.T) {
	static := newKey()
	writable := newKey()
	readonly := newKey()
	tx := &solana.Transaction{
		Message: solana.Message{AccountKeys: []solana.PublicKey{static}},
	}
	meta := makeMeta(t, fmt.Sprintf(`{"err":null,"loadedAddresses":{"writable":[%q],"readonly":[%q]}}`,
		writable.String(), readonly.String()))

	keys := resolveAccountKeys(tx, meta)
	assert.Equal(t, []solana.PublicKey{static, writable, readonly}, keys)

	assert.Equal(t, []solana.PublicKey{static}, resolveAccountKeys(tx, nil))
}

func TestToUSDC(t *testing.T) {
	assert.Equal(t, "50", toUSDC(50_000_000).String())
	assert.Equal(t, "0.000001", toUSDC(1).String())
	assert.Equal(t, "1234.5678", toUSDC(1_234_567_800).String())
}
