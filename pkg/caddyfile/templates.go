package caddyfile

// Built-in templates. ${name} placeholders are resolved by Engine.Render at
// deployment time; single-brace tokens such as {remote_host} or {env.*} are
// Caddy's own run-time placeholders and pass through rendering untouched.

// GlobalTemplate renders the unnamed global options block. Secrets are never
// templated in: the acme_dns directive references them through {env.*} so
// they reach caddy only via the process environment.
const GlobalTemplate = `{
	email ${email}
	admin off
	auto_https disable_redirects
	storage file_system {
		root ${data_dir}
	}
	${acme_dns_auth}
}
`

// SiteTemplate renders one reverse-proxy site block.
const SiteTemplate = `${domain} {
	reverse_proxy ${target} {
		header_up Host ${domain}
		header_up X-Real-IP {remote_host}
		header_up X-Forwarded-For {remote_host}
		header_up X-Forwarded-Proto {scheme}
	}

	tls {
		dns cloudflare ${cloudflare_auth}
	}

	log {
		output file ${log_path} {
			roll_size 10MB
			roll_keep 10
		}
		format json
	}

	header {
		Strict-Transport-Security "max-age=31536000; includeSubDomains; preload"
		X-Frame-Options "SAMEORIGIN"
		X-Content-Type-Options "nosniff"
		Referrer-Policy "strict-origin-when-cross-origin"
	}
}
`
