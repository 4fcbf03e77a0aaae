package solana

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"
	"time"

	"github.com/brojonat/solvision/service/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func testSignature(slot uint64) *rpc.TransactionSignature {
	now := solana.UnixTimeSeconds(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Unix())
	return &rpc.TransactionSignature{
		Signature: solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"),
		Slot:      slot,
		BlockTime: &now,
	}
}

func systemTransferData(lamports uint64) []byte {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], SystemProgramTransferInstruction)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return data
}

func transferCheckedData(amount uint64, decimals uint8) []byte {
	data := make([]byte, 10)
	data[0] = TokenProgramTransferCheckedInstruction
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals
	return data
}

func resultFor(t *testing.T, tx *solana.Transaction, meta *rpc.TransactionMeta) *rpc.GetTransactionResult {
	t.Helper()
	envelope, err := makeTransactionEnvelope(tx)
	require.NoError(t, err)
	return &rpc.GetTransactionResult{Transaction: envelope, Meta: meta}
}

func TestParseTransaction_SOLTransfer(t *testing.T) {
	root, other := newKey(), newKey()

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{root, other, solana.SystemProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: systemTransferData(1_500_000_000)},
			},
		},
	}

	sig := testSignature(100)
	txn, err := parseTransactionFromResult(root, sig, resultFor(t, tx, nil))

	require.NoError(t, err)
	assert.Equal(t, sig.Signature.String(), txn.Signature)
	assert.Equal(t, uint64(100), txn.Slot)
	assert.Equal(t, sig.BlockTime.Time().UTC(), txn.Timestamp)
	assert.Equal(t, root.String(), txn.FromAddress)
	assert.Equal(t, other.String(), txn.ToAddress)
	assert.InDelta(t, 1.5, txn.Amount, 1e-9)
	assert.Equal(t, wallet.TypeTransfer, txn.Type)
	assert.Nil(t, txn.TokenMint)
	assert.Nil(t, txn.Err)
	assert.True(t, txn.IsWellFormed())
}

func TestParseTransaction_IncomingSOLTransfer(t *testing.T) {
	root, sender := newKey(), newKey()

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{sender, root, solana.SystemProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: systemTransferData(250_000_000)},
			},
		},
	}

	txn, err := parseTransactionFromResult(root, testSignature(1), resultFor(t, tx, nil))

	require.NoError(t, err)
	cp, ok := txn.Counterparty(root.String())
	require.True(t, ok)
	assert.Equal(t, sender.String(), cp)
	assert.Equal(t, root.String(), txn.ToAddress)
	assert.InDelta(t, 0.25, txn.Amount, 1e-9)
}

func TestParseTransaction_PrefersTransferTouchingRoot(t *testing.T) {
	root, a, b, c := newKey(), newKey(), newKey(), newKey()

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{a, b, root, c, solana.SystemProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 4, Accounts: []uint16{0, 1}, Data: systemTransferData(1)},
				{ProgramIDIndex: 4, Accounts: []uint16{2, 3}, Data: systemTransferData(2_000_000_000)},
			},
		},
	}

	txn, err := parseTransactionFromResult(root, testSignature(1), resultFor(t, tx, nil))

	require.NoError(t, err)
	assert.Equal(t, root.String(), txn.FromAddress)
	assert.Equal(t, c.String(), txn.ToAddress)
	assert.InDelta(t, 2.0, txn.Amount, 1e-9)
}

func TestParseTransaction_ForeignTransferIsNotTheRecord(t *testing.T) {
	root, a, b, program := newKey(), newKey(), newKey(), newKey()

	t.Run("falls back to the invoked program", func(t *testing.T) {
		tx := &solana.Transaction{
			Message: solana.Message{
				AccountKeys: []solana.PublicKey{root, a, b, solana.SystemProgramID, program},
				Instructions: []solana.CompiledInstruction{
					{ProgramIDIndex: 3, Accounts: []uint16{1, 2}, Data: systemTransferData(1_000_000_000)},
					{ProgramIDIndex: 4, Accounts: []uint16{0}, Data: []byte{1}},
				},
			},
		}

		txn, err := parseTransactionFromResult(root, testSignature(1), resultFor(t, tx, nil))

		require.NoError(t, err)
		assert.Equal(t, wallet.TypeProgramCall, txn.Type)
		assert.Equal(t, root.String(), txn.FromAddress)
		assert.Equal(t, program.String(), txn.ToAddress)
		assert.Zero(t, txn.Amount)
		assert.True(t, txn.IsWellFormed())
	})

	t.Run("only a system transfer between others", func(t *testing.T) {
		tx := &solana.Transaction{
			Message: solana.Message{
				AccountKeys: []solana.PublicKey{a, b, root, solana.SystemProgramID},
				Instructions: []solana.CompiledInstruction{
					{ProgramIDIndex: 3, Accounts: []uint16{0, 1}, Data: systemTransferData(1_000_000_000)},
				},
			},
		}

		txn, err := parseTransactionFromResult(root, testSignature(1), resultFor(t, tx, nil))

		require.NoError(t, err)
		assert.Equal(t, wallet.TypeProgramCall, txn.Type)
		assert.Equal(t, root.String(), txn.FromAddress)
		assert.Empty(t, txn.ToAddress)
		assert.Zero(t, txn.Amount)
	})
}

func TestParseTransaction_SPLTransferChecked(t *testing.T) {
	root := newKey()
	sourceTokenAccount, mintAddr, destTokenAccount, destOwner := newKey(), newKey(), newKey(), newKey()

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{sourceTokenAccount, mintAddr, destTokenAccount, root, solana.TokenProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 4, Accounts: []uint16{0, 1, 2, 3}, Data: transferCheckedData(2_500_000, 6)},
			},
		},
	}

	t.Run("destination owner from meta", func(t *testing.T) {
		meta := &rpc.TransactionMeta{
			PostTokenBalances: []rpc.TokenBalance{
				{AccountIndex: 2, Owner: &destOwner, Mint: mintAddr, UiTokenAmount: &rpc.UiTokenAmount{Decimals: 6}},
			},
		}

		txn, err := parseTransactionFromResult(root, testSignature(1), resultFor(t, tx, meta))

		require.NoError(t, err)
		assert.Equal(t, wallet.TypeTokenTransfer, txn.Type)
		assert.Equal(t, root.String(), txn.FromAddress)
		assert.Equal(t, destOwner.String(), txn.ToAddress)
		assert.InDelta(t, 2.5, txn.Amount, 1e-9)
		require.NotNil(t, txn.TokenMint)
		assert.Equal(t, mintAddr.String(), *txn.TokenMint)
	})

	t.Run("token account without meta", func(t *testing.T) {
		txn, err := parseTransactionFromResult(root, testSignature(1), resultFor(t, tx, nil))

		require.NoError(t, err)
		assert.Equal(t, destTokenAccount.String(), txn.ToAddress)
		assert.InDelta(t, 2.5, txn.Amount, 1e-9)
	})
}

func TestParseTransaction_SPLTransferUsesMetaDecimals(t *testing.T) {
	root := newKey()
	source, dest, owner, mintAddr := newKey(), newKey(), newKey(), newKey()

	data := make([]byte, 9)
	data[0] = TokenProgramTransferInstruction
	binary.LittleEndian.PutUint64(data[1:9], 3_000)

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{source, dest, root, solana.Token2022ProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 3, Accounts: []uint16{0, 1, 2}, Data: data},
			},
		},
	}

	meta := &rpc.TransactionMeta{
		PreTokenBalances: []rpc.TokenBalance{
			{AccountIndex: 1, Owner: &owner, Mint: mintAddr, UiTokenAmount: &rpc.UiTokenAmount{Decimals: 3}},
		},
	}

	txn, err := parseTransactionFromResult(root, testSignature(1), resultFor(t, tx, meta))

	require.NoError(t, err)
	assert.Equal(t, owner.String(), txn.ToAddress)
	assert.InDelta(t, 3.0, txn.Amount, 1e-9)
	require.NotNil(t, txn.TokenMint)
	assert.Equal(t, mintAddr.String(), *txn.TokenMint)
}

func TestParseTransaction_WithMemo(t *testing.T) {
	root, other := newKey(), newKey()
	memoText := `{"invoice": "test-123"}`

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{root, other, solana.SystemProgramID, solana.MemoProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: systemTransferData(1_000_000_000)},
				{ProgramIDIndex: 3, Accounts: []uint16{}, Data: []byte(memoText)},
			},
		},
	}

	txn, err := parseTransactionFromResult(root, testSignature(1), resultFor(t, tx, nil))

	require.NoError(t, err)
	require.NotNil(t, txn.Memo)
	assert.Equal(t, memoText, *txn.Memo)
	assert.Equal(t, other.String(), txn.ToAddress)
}

func TestParseTransaction_ProgramCall(t *testing.T) {
	root, program := newKey(), newKey()

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{root, solana.MemoProgramID, program},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 1, Accounts: []uint16{}, Data: []byte("hello")},
				{ProgramIDIndex: 2, Accounts: []uint16{0}, Data: []byte{9, 9, 9}},
			},
		},
	}

	txn, err := parseTransactionFromResult(root, testSignature(1), resultFor(t, tx, nil))

	require.NoError(t, err)
	assert.Equal(t, wallet.TypeProgramCall, txn.Type)
	assert.Equal(t, root.String(), txn.FromAddress)
	assert.Equal(t, program.String(), txn.ToAddress)
	assert.Zero(t, txn.Amount)
	assert.True(t, txn.IsWellFormed())
}

func TestParseTransaction_Failed(t *testing.T) {
	root := newKey()
	sig := testSignature(100)
	sig.Err = map[string]interface{}{"InstructionError": []interface{}{0, "InsufficientFunds"}}

	txn, err := parseTransactionFromResult(root, sig, &rpc.GetTransactionResult{})

	require.NoError(t, err)
	assert.Equal(t, wallet.TypeFailed, txn.Type)
	require.NotNil(t, txn.Err)
	assert.Contains(t, *txn.Err, "transaction failed")
	assert.False(t, txn.IsWellFormed(), "failed records have no counterparty")
}

func TestSignatureRecord(t *testing.T) {
	root := newKey()
	sig := testSignature(12345)
	memo := "[11] hello"
	sig.Memo = &memo

	txn := signatureRecord(root, sig)

	assert.Equal(t, sig.Signature.String(), txn.Signature)
	assert.Equal(t, uint64(12345), txn.Slot)
	assert.Equal(t, sig.BlockTime.Time().UTC(), txn.Timestamp)
	assert.Equal(t, root.String(), txn.FromAddress)
	assert.Empty(t, txn.ToAddress)
	require.NotNil(t, txn.Memo)
	assert.Equal(t, memo, *txn.Memo)
	assert.Nil(t, txn.Err)

	_, ok := txn.Counterparty(root.String())
	assert.False(t, ok)
}

func TestParseMemo(t *testing.T) {
	assert.Equal(t, "test payment", parseMemo([]byte("test payment")))

	encoded := base64.StdEncoding.EncodeToString([]byte("secret message"))
	assert.Equal(t, "secret message", parseMemo([]byte(encoded)))
}

func TestParseSystemTransfer(t *testing.T) {
	from, to := newKey(), newKey()

	t.Run("transfer", func(t *testing.T) {
		instruction := solana.CompiledInstruction{Accounts: []uint16{0, 1}, Data: systemTransferData(2_000_000_000)}

		got, err := parseSystemTransfer(instruction, solana.PublicKeySlice{from, to})

		require.NoError(t, err)
		assert.Equal(t, from, got.from)
		assert.Equal(t, to, got.to)
		assert.InDelta(t, 2.0, got.amount, 1e-9)
		assert.False(t, got.token)
	})

	t.Run("other system instruction", func(t *testing.T) {
		data := systemTransferData(1)
		binary.LittleEndian.PutUint32(data[0:4], 0) // CreateAccount
		_, err := parseSystemTransfer(solana.CompiledInstruction{Accounts: []uint16{0, 1}, Data: data}, solana.PublicKeySlice{from, to})
		assert.Error(t, err)
	})

	t.Run("short data", func(t *testing.T) {
		_, err := parseSystemTransfer(solana.CompiledInstruction{Accounts: []uint16{0, 1}, Data: []byte{2, 0}}, solana.PublicKeySlice{from, to})
		assert.Error(t, err)
	})

	t.Run("account index out of bounds", func(t *testing.T) {
		_, err := parseSystemTransfer(solana.CompiledInstruction{Accounts: []uint16{0, 7}, Data: systemTransferData(1)}, solana.PublicKeySlice{from, to})
		assert.Error(t, err)
	})
}

func TestParseTokenTransfer_Errors(t *testing.T) {
	keys := solana.PublicKeySlice{newKey(), newKey(), newKey(), newKey()}

	tests := []struct {
		name        string
		instruction solana.CompiledInstruction
	}{
		{"empty data", solana.CompiledInstruction{Accounts: []uint16{0, 1, 2, 3}}},
		{"unknown type", solana.CompiledInstruction{Accounts: []uint16{0, 1, 2, 3}, Data: []byte{7, 1, 2}}},
		{"short transfer", solana.CompiledInstruction{Accounts: []uint16{0, 1, 2}, Data: []byte{3, 1}}},
		{"missing accounts", solana.CompiledInstruction{Accounts: []uint16{0, 1}, Data: transferCheckedData(1, 6)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTokenTransfer(tt.instruction, keys, nil)
			assert.Error(t, err)
		})
	}
}

func TestResolveAccountKeys(t *testing.T) {
	static, writable, readonly := newKey(), newKey(), newKey()
	tx := &solana.Transaction{Message: solana.Message{AccountKeys: []solana.PublicKey{static}}}

	assert.Equal(t, solana.PublicKeySlice{static}, resolveAccountKeys(tx, nil))

	meta := &rpc.TransactionMeta{
		LoadedAddresses: rpc.LoadedAddresses{
			Writable: solana.PublicKeySlice{writable},
			ReadOnly: solana.PublicKeySlice{readonly},
		},
	}
	assert.Equal(t, solana.PublicKeySlice{static, writable, readonly}, resolveAccountKeys(tx, meta))
}
