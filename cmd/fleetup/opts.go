package main

var opts struct {
	Config string `long:"config" short:"c" env:"CONFIG" description:"path to a yaml config file"`
	Fresh  bool   `long:"fresh" env:"FRESH" description:"wipe previous fleet state and provision from scratch"`
	Down   bool   `long:"down" env:"DOWN" description:"stop the fleet recorded in the metadata"`
	Status bool   `long:"status" env:"STATUS" description:"print per-node fleet status and exit"`
	Serve  bool   `long:"serve" env:"SERVE" description:"serve the operator rest api instead of a one-shot run"`

	Fleet struct {
		Data         string `long:"data" env:"DATA" description:"fleet data directory"`
		Transactions int    `long:"transactions" env:"TRANSACTIONS" description:"number of transaction nodes to run"`
		Quorum       int    `long:"quorum" env:"QUORUM" description:"number of quorum nodes in a fresh fleet"`
		Tokens       int    `long:"tokens" env:"TOKENS" description:"test tokens to issue per node account"`
	} `group:"fleet" namespace:"fleet" env-namespace:"FLEET"`

	API struct {
		BindAddr string `long:"bind-addr" env:"BIND_ADDR" default:"127.0.0.1:8910" description:"address to bind the operator api"`
	} `group:"api" namespace:"api" env-namespace:"API"`

	Verbose bool `long:"verbose" env:"VERBOSE" description:"verbose mode"`
}
