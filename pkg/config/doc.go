// Package config loads the deanslist-sync configuration.
//
// Values are resolved in this order, later sources winning:
//
//  1. built-in defaults (Default)
//  2. the YAML file, after ${VAR} substitution
//  3. DLSYNC_* environment variables and command-line flags, through viper
//
// A .env file next to the binary is exported into the environment before
// any of this happens, so ${VAR} references and DLSYNC_* overrides can both
// come from it.
//
// Example file:
//
//	source:
//	  base_url: https://district.deanslistsoftware.com
//	  http:
//	    rate_limit: 5
//	warehouse:
//	  driver: postgres
//	  dsn: ${WAREHOUSE_DSN}
//	  schema: custom
//	run:
//	  workers: 4
//	logging:
//	  level: info
//	  file: /var/log/deanslist-sync/run.log
//	notify:
//	  smtp:
//	    host: smtp.gmail.com
//	    username: ${GMAIL_USER}
//	    password: ${GMAIL_PWD}
//	    to: [${SLACK_EMAIL}]
//	    log_file: /var/log/deanslist-sync/run.log
package config
