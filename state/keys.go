package state

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"agchain/core/types"
)

// Key prefixes for the flat key/value store. Every key is the keccak of its
// prefix plus identifying bytes, so keys are uniform length and collisions
// across record families are impossible.
const (
	prefixAccount          = "agchain/account/"
	prefixBalance          = "agchain/balance/"
	prefixAsset            = "agchain/asset/"
	prefixAssetSymbol      = "agchain/asset-symbol/"
	prefixAssetCount       = "agchain/asset-count"
	prefixCampaign         = "agchain/token/campaign/"
	prefixCampaignCount    = "agchain/token/campaign-count"
	prefixCampaignName     = "agchain/token/campaign-name/"
	prefixStatistics       = "agchain/token/statistics/"
	prefixBuy              = "agchain/token/buy/"
	prefixBuyCount         = "agchain/token/buy-count"
	prefixCampaignBuys     = "agchain/token/campaign-buys/"
	prefixTokenEvent       = "agchain/token/event/"
	prefixTokenEventCount  = "agchain/token/event-count"
	prefixFeeCashback      = "agchain/token/fee-cashback/"
	prefixDelayTransfer    = "agchain/delay/transfer/"
	prefixDelayCount       = "agchain/delay/transfer-count"
	prefixDelayByFrom      = "agchain/delay/by-from/"
	prefixDelayByTo        = "agchain/delay/by-to/"
	prefixUnexecuted       = "agchain/delay/unexecuted/"
	prefixUnexecutedAssets = "agchain/delay/unexecuted-assets/"
	prefixSweepCursor      = "agchain/sweep-cursor/"
	prefixChainMeta        = "agchain/meta/"
)

func hashKey(prefix string, parts ...[]byte) []byte {
	buf := make([]byte, 0, len(prefix)+len(parts)*20)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

func u64Bytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func accountKey(addr types.Address) []byte { return hashKey(prefixAccount, addr[:]) }

func balanceKey(addr types.Address, asset types.AssetID) []byte {
	return hashKey(prefixBalance, addr[:], u64Bytes(uint64(asset)))
}

func assetKey(id types.AssetID) []byte     { return hashKey(prefixAsset, u64Bytes(uint64(id))) }
func assetSymbolKey(symbol string) []byte  { return hashKey(prefixAssetSymbol, []byte(symbol)) }
func assetCountKey() []byte                { return hashKey(prefixAssetCount) }
func campaignKey(id uint64) []byte         { return hashKey(prefixCampaign, u64Bytes(id)) }
func campaignCountKey() []byte             { return hashKey(prefixCampaignCount) }
func campaignNameKey(upper string) []byte  { return hashKey(prefixCampaignName, []byte(upper)) }
func statisticsKey(id uint64) []byte       { return hashKey(prefixStatistics, u64Bytes(id)) }
func buyKey(id uint64) []byte              { return hashKey(prefixBuy, u64Bytes(id)) }
func buyCountKey() []byte                  { return hashKey(prefixBuyCount) }
func campaignBuysKey(cid uint64) []byte    { return hashKey(prefixCampaignBuys, u64Bytes(cid)) }
func tokenEventKey(id uint64) []byte       { return hashKey(prefixTokenEvent, u64Bytes(id)) }
func tokenEventCountKey() []byte           { return hashKey(prefixTokenEventCount) }
func feeCashbackKey(a types.Address) []byte { return hashKey(prefixFeeCashback, a[:]) }
func delayTransferKey(id uint64) []byte    { return hashKey(prefixDelayTransfer, u64Bytes(id)) }
func delayCountKey() []byte                { return hashKey(prefixDelayCount) }
func delayByFromKey(a types.Address) []byte { return hashKey(prefixDelayByFrom, a[:]) }
func delayByToKey(a types.Address) []byte   { return hashKey(prefixDelayByTo, a[:]) }

func unexecutedKey(a types.Address, asset types.AssetID) []byte {
	return hashKey(prefixUnexecuted, a[:], u64Bytes(uint64(asset)))
}

func unexecutedAssetsKey(a types.Address) []byte { return hashKey(prefixUnexecutedAssets, a[:]) }
func sweepCursorKey(name string) []byte          { return hashKey(prefixSweepCursor, []byte(name)) }
func chainMetaKey(name string) []byte            { return hashKey(prefixChainMeta, []byte(name)) }
