package cli

var (
	PrintResponse  = printResponse
	PrintBudget    = printBudget
	EnvFilePath    = envFilePath
	GetIndexConfig = getIndexConfig
)
