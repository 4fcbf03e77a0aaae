package solana

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/brojonat/solvision/service/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// transfer is one value movement decoded from an instruction.
type transfer struct {
	from   solana.PublicKey
	to     solana.PublicKey
	amount float64
	mint   *solana.PublicKey
	token  bool
}

func (t transfer) involves(root solana.PublicKey) bool {
	return t.from.Equals(root) || t.to.Equals(root)
}

// signatureRecord builds the record available from the signature list alone.
// The counterparty is unknown, so the record stays out of the network graph.
func signatureRecord(root solana.PublicKey, sig *rpc.TransactionSignature) wallet.Transaction {
	txn := wallet.Transaction{
		Signature:   sig.Signature.String(),
		Slot:        sig.Slot,
		FromAddress: root.String(),
		Type:        wallet.TypeProgramCall,
	}

	if sig.BlockTime != nil {
		txn.Timestamp = sig.BlockTime.Time().UTC()
	}

	if sig.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", sig.Err)
		txn.Err = &errMsg
		txn.Type = wallet.TypeFailed
	}

	if sig.Memo != nil && *sig.Memo != "" {
		memo := *sig.Memo
		txn.Memo = &memo
	}

	return txn
}

// parseTransactionFromResult turns a full GetTransactionResult into a wallet record for root.
//
// The first transfer touching root wins. Transfers between other accounts never become the
// record; such transactions are program calls whose counterparty is the first non-memo,
// non-system program invoked, or plain signature records when there is none.
func parseTransactionFromResult(root solana.PublicKey, sig *rpc.TransactionSignature, result *rpc.GetTransactionResult) (wallet.Transaction, error) {
	txn := signatureRecord(root, sig)

	if sig.Err != nil || result == nil || result.Transaction == nil {
		return txn, nil
	}

	if txn.Timestamp.IsZero() && result.BlockTime != nil {
		txn.Timestamp = result.BlockTime.Time().UTC()
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return wallet.Transaction{}, fmt.Errorf("failed to decode transaction: %w", err)
	}

	accountKeys := resolveAccountKeys(tx, result.Meta)

	var (
		matched  *transfer
		program  *solana.PublicKey
		memoText string
	)

	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		programID := accountKeys[instruction.ProgramIDIndex]

		switch {
		case programID.Equals(solana.MemoProgramID) || programID.Equals(MemoProgramIDLegacy):
			if memo := parseMemo(instruction.Data); memo != "" {
				memoText = memo
			}
			continue

		case programID.Equals(solana.SystemProgramID):
			if t, err := parseSystemTransfer(instruction, accountKeys); err == nil && t.involves(root) {
				if matched == nil {
					matched = &t
				}
				continue
			}

		case programID.Equals(solana.TokenProgramID) || programID.Equals(solana.Token2022ProgramID):
			if t, err := parseTokenTransfer(instruction, accountKeys, result.Meta); err == nil && t.involves(root) {
				if matched == nil {
					matched = &t
				}
				continue
			}
		}

		if program == nil && !programID.Equals(solana.SystemProgramID) {
			p := programID
			program = &p
		}
	}

	if memoText != "" {
		txn.Memo = &memoText
	}

	switch {
	case matched != nil:
		txn.FromAddress = matched.from.String()
		txn.ToAddress = matched.to.String()
		txn.Amount = matched.amount
		txn.Type = wallet.TypeTransfer
		if matched.token {
			txn.Type = wallet.TypeTokenTransfer
		}
		if matched.mint != nil {
			mint := matched.mint.String()
			txn.TokenMint = &mint
		}
	case program != nil:
		txn.ToAddress = program.String()
	}

	return txn, nil
}

// resolveAccountKeys returns the static account keys followed by any keys loaded from
// address lookup tables (writable first, then readonly), which is the index space
// compiled instructions refer to in v0 transactions.
func resolveAccountKeys(tx *solana.Transaction, meta *rpc.TransactionMeta) solana.PublicKeySlice {
	keys := make(solana.PublicKeySlice, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}
	return keys
}

func accountAt(instruction solana.CompiledInstruction, accountKeys solana.PublicKeySlice, pos int) (solana.PublicKey, uint16, error) {
	if pos >= len(instruction.Accounts) {
		return solana.PublicKey{}, 0, fmt.Errorf("instruction has %d accounts, need position %d", len(instruction.Accounts), pos)
	}
	idx := instruction.Accounts[pos]
	if int(idx) >= len(accountKeys) {
		return solana.PublicKey{}, 0, fmt.Errorf("account index %d out of bounds", idx)
	}
	return accountKeys[idx], idx, nil
}

// parseSystemTransfer decodes a System Program Transfer instruction.
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys solana.PublicKeySlice) (transfer, error) {
	// [0..4]  = instruction type (u32, 2 = Transfer)
	// [4..12] = lamports (u64)
	// accounts: [from, to]
	if len(instruction.Data) < 12 {
		return transfer{}, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}

	instructionType := binary.LittleEndian.Uint32(instruction.Data[0:4])
	if instructionType != SystemProgramTransferInstruction {
		return transfer{}, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}

	lamports := binary.LittleEndian.Uint64(instruction.Data[4:12])

	from, _, err := accountAt(instruction, accountKeys, 0)
	if err != nil {
		return transfer{}, err
	}
	to, _, err := accountAt(instruction, accountKeys, 1)
	if err != nil {
		return transfer{}, err
	}

	return transfer{
		from:   from,
		to:     to,
		amount: float64(lamports) / float64(solana.LAMPORTS_PER_SOL),
	}, nil
}

// parseTokenTransfer decodes an SPL Token Transfer or TransferChecked instruction.
//
// The signing authority is the sender. The receiver is the owner of the destination token
// account when the transaction meta lists it, the token account itself otherwise.
func parseTokenTransfer(instruction solana.CompiledInstruction, accountKeys solana.PublicKeySlice, meta *rpc.TransactionMeta) (transfer, error) {
	if len(instruction.Data) == 0 {
		return transfer{}, fmt.Errorf("empty instruction data")
	}

	var (
		raw       uint64
		decimals  *uint8
		mint      *solana.PublicKey
		destPos   int
		authority int
	)

	switch instruction.Data[0] {
	case TokenProgramTransferInstruction:
		// [0]    = 3
		// [1..9] = amount (u64)
		// accounts: [source, destination, authority]
		if len(instruction.Data) < 9 {
			return transfer{}, fmt.Errorf("transfer instruction data too short")
		}
		raw = binary.LittleEndian.Uint64(instruction.Data[1:9])
		destPos, authority = 1, 2

	case TokenProgramTransferCheckedInstruction:
		// [0]    = 12
		// [1..9] = amount (u64)
		// [9]    = decimals (u8)
		// accounts: [source, mint, destination, authority]
		if len(instruction.Data) < 10 {
			return transfer{}, fmt.Errorf("transferChecked instruction data too short")
		}
		raw = binary.LittleEndian.Uint64(instruction.Data[1:9])
		d := instruction.Data[9]
		decimals = &d
		m, _, err := accountAt(instruction, accountKeys, 1)
		if err != nil {
			return transfer{}, err
		}
		mint = &m
		destPos, authority = 2, 3

	default:
		return transfer{}, fmt.Errorf("unknown token instruction type: %d", instruction.Data[0])
	}

	from, _, err := accountAt(instruction, accountKeys, authority)
	if err != nil {
		return transfer{}, err
	}
	to, destIndex, err := accountAt(instruction, accountKeys, destPos)
	if err != nil {
		return transfer{}, err
	}

	if bal, ok := tokenBalance(meta, destIndex); ok {
		if bal.Owner != nil {
			to = *bal.Owner
		}
		if mint == nil {
			m := bal.Mint
			mint = &m
		}
		if decimals == nil && bal.UiTokenAmount != nil {
			d := bal.UiTokenAmount.Decimals
			decimals = &d
		}
	}

	amount := float64(raw)
	if decimals != nil {
		amount = amount / math.Pow10(int(*decimals))
	}

	return transfer{
		from:   from,
		to:     to,
		amount: amount,
		mint:   mint,
		token:  true,
	}, nil
}

// tokenBalance finds the token balance entry for an account index, post balances first.
func tokenBalance(meta *rpc.TransactionMeta, accountIndex uint16) (rpc.TokenBalance, bool) {
	if meta == nil {
		return rpc.TokenBalance{}, false
	}
	for _, balances := range [][]rpc.TokenBalance{meta.PostTokenBalances, meta.PreTokenBalances} {
		for _, bal := range balances {
			if bal.AccountIndex == accountIndex {
				return bal, true
			}
		}
	}
	return rpc.TokenBalance{}, false
}

// parseMemo extracts the memo text from a Memo Program instruction.
// Memos are raw UTF-8, occasionally base64 encoded.
func parseMemo(data []byte) string {
	memo := string(data)

	if decoded, err := base64.StdEncoding.DecodeString(memo); err == nil && isPrintableUTF8(decoded) {
		return string(decoded)
	}

	return memo
}

func isPrintableUTF8(b []byte) bool {
	if len(b) == 0 || !utf8.Valid(b) {
		return false
	}
	for _, c := range b {
		if c == 0 {
			return false
		}
	}
	return true
}
