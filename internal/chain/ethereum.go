package chain

func init() {
	// ==========================================================================
	// Ethereum Mainnet (chainID 1)
	// ==========================================================================
	Register(&Params{
		ChainID:      EthereumID,
		Name:         "Ethereum",
		NativeSymbol: "ETH",
		NativeName:   "Ether",
		Decimals:     18,
		ExplorerURL:  "https://etherscan.io",
		DefaultRPC:   "https://eth.llamarpc.com",
	})

	// ==========================================================================
	// Polygon PoS (chainID 137)
	// ==========================================================================
	Register(&Params{
		ChainID:      PolygonID,
		Name:         "Polygon",
		NativeSymbol: "MATIC",
		NativeName:   "Polygon",
		Decimals:     18,
		ExplorerURL:  "https://polygonscan.com",
		DefaultRPC:   "https://polygon-rpc.com",
	})

	// ==========================================================================
	// Arbitrum One (chainID 42161)
	// ==========================================================================
	Register(&Params{
		ChainID:      ArbitrumID,
		Name:         "Arbitrum",
		NativeSymbol: "ETH",
		NativeName:   "Ether",
		Decimals:     18,
		ExplorerURL:  "https://arbiscan.io",
		DefaultRPC:   "https://arb1.arbitrum.io/rpc",
	})
}
