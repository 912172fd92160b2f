package policy

var metaRanges = []string{
	"157.240.0.0/16",
	"31.13.24.0/21",
	"31.13.64.0/18",
	"129.134.0.0/16",
	"185.89.218.0/23",
	"179.60.192.0/22",
}

var xRanges = []string{
	"104.244.40.0/21",
	"199.16.156.0/22",
	"199.59.148.0/22",
	"69.195.160.0/19",
}

// Provider networks for the known platforms. Blocking the whole network
// keeps working when the browser resolves names over encrypted DNS.
var knownCIDRRanges = map[string][]string{
	"instagram.com": metaRanges,
	"facebook.com":  metaRanges,
	"twitter.com":   xRanges,
	"x.com":         xRanges,
	"youtube.com": {
		"142.250.0.0/15",
		"172.217.0.0/16",
		"216.58.192.0/19",
		"74.125.0.0/16",
		"173.194.0.0/16",
	},
	"tiktok.com": {
		"161.117.0.0/16",
		"144.22.0.0/16",
		"152.199.0.0/16",
	},
	"reddit.com": {
		"151.101.0.0/16",
		"199.232.0.0/16",
	},
}

// DoHDomains are DNS-over-HTTPS provider hostnames. Overriding them forces
// browsers back onto the system resolver, which honours the hosts file.
var DoHDomains = []string{
	"dns.google",
	"dns.google.com",
	"cloudflare-dns.com",
	"mozilla.cloudflare-dns.com",
	"dns.quad9.net",
	"doh.opendns.com",
	"dns.nextdns.io",
	"doh.cleanbrowsing.org",
	"dns.adguard.com",
}

// DoHIPs are DNS-over-HTTPS resolver addresses, blocked on tcp/443 only so
// plain DNS to the same hosts keeps working.
var DoHIPs = []string{
	"8.8.8.8",
	"8.8.4.4",
	"1.1.1.1",
	"1.0.0.1",
	"9.9.9.9",
	"149.112.112.112",
	"208.67.222.222",
	"208.67.220.220",
}

// CIDRRanges returns the provider networks for site, or an empty slice.
func CIDRRanges(site string) []string {
	ranges, ok := knownCIDRRanges[site]
	if !ok {
		return []string{}
	}
	out := make([]string, len(ranges))
	copy(out, ranges)
	return out
}
