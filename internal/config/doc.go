// Package config loads dfsync.json and DFSYNC_* environment variables.
//
// Precedence, lowest first: built-in defaults, the config file, the
// environment, then command-line flags applied by the caller.
//
// # Configuration File Structure
//
//	{
//	  "server": {
//	    "address": "0.0.0.0:9191",
//	    "campaign": "lost-mine/campaign.json",
//	    "snapshotMode": "length-prefixed",
//	    "authorizeMoves": true,
//	    "checkpoint": "lost-mine/positions.db"
//	  },
//	  "assets": {
//	    "bucket": "s3://dm-assets/lost-mine",
//	    "region": "eu-west-1"
//	  },
//	  "dashboard": {"enabled": true, "address": "127.0.0.1:9192"},
//	  "discovery": {"advertise": true},
//	  "log": {"level": "debug", "format": "json"}
//	}
//
// Relative paths are resolved against the directory of the file.
//
// # Usage
//
//	cfg, err := config.LoadOptional(flagPath)
//	if err != nil {
//	    return err
//	}
//	if err := cfg.ApplyEnv(); err != nil {
//	    return err
//	}
//	sc, err := cfg.ServerConfig()
package config
