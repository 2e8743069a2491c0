package extract

// Selector lists are tried in order; the first that matches wins. Google
// rotates its obfuscated class names, so each list carries older variants.
var (
	listingSelectors = []string{
		`a.vwVdIc`,
		`div.VkpGBb a`,
		`a[jsname]`,
		`div[role="article"] a`,
		`div.g a`,
		`a.sVXRqc`,
		`a[data-cid]`,
		`div.tF2Cxc a`,
	}

	nextSelectors = []string{
		`a#pnnext`,
		`a[aria-label*="Next"]`,
		`a[aria-label*="next"]`,
		`td.b a`,
		`span.SJajHc.NVbCr a`,
		`a.nBDE1b.G5eFlf`,
		`#pnnext`,
		`span[style*="background:url"] a`,
		`table#nav td:last-child a`,
	}

	consentTexts = []string{"Accept all", "Reject all", "I agree"}
	consentID    = "L2AGLb"

	nameSelectors = []string{
		`h2.qrShPb`,
		`h1.DUwDvf`,
		`div.SPZz6b h2`,
		`div.SPZz6b h1`,
		`div.x0H67.r9fE8`,
		`div.v93No.H7V2N.fEByN`,
		`[role="heading"]`,
		`.rG09U`,
		`.H07f0c`,
		`div.PZPZ1c h2`,
		`div.PZPZ1c h1`,
	}

	ratingSelectors = []string{
		`span.ceNzKf[aria-hidden="true"]`,
		`div.F7nice span[aria-hidden="true"]`,
		`span.Aq14fc`,
		`span.gsrt.By079`,
		`div.PZPZ1c span[aria-hidden="true"]`,
	}

	reviewSelectors = []string{
		`span.RDApEe.YrbPuc`,
		`span.RDApEe`,
		`span.F7nice span:nth-child(2)`,
		`div.F7nice span[aria-label*="reviews"]`,
		`span.z3vRcc`,
	}

	categorySelectors = []string{
		`button.DkEaL`,
		`span.YhemCb`,
		`div.LBgpqf button`,
		`div.PZPZ1c span:nth-of-type(1)`,
	}

	addressSelectors = []string{
		`span.LrzXr`,
		`button[data-item-id="address"]`,
		`button[data-tooltip*="Address"]`,
		`div.rogA2c[data-item-id="address"]`,
		`div[data-item-id="address"]`,
		`span.fMghS`,
	}

	phoneSelectors = []string{
		`button[data-item-id*="phone"]`,
		`button[aria-label*="Phone"]`,
		`a[data-item-id*="phone"]`,
		`a[data-dtype="d3ph"]`,
		`span.LrzXr.zdqRlf.kno-fv a`,
		`span.w8qArf.FoJoyf a.fl`,
		`span.LrzXr`,
		`span[data-dtype="d3ph"]`,
	}

	websiteSelectors = []string{
		`a.n1obkb.mI8Pwc`,
		`a[data-item-id="authority"]`,
		`a[aria-label*="Website"]`,
		`button[data-item-id="authority"]`,
		`a.ab_button[href*="http"]`,
	}

	priceSelectors = []string{
		`span[aria-label*="Price"]`,
		`span.mgr77e`,
		`span.YhemCb`,
	}

	hoursSelectors = []string{
		`div.OqCZI`,
		`span[aria-label*="Hours"]`,
		`div.MkXq9e`,
		`div.J77u9c`,
	}
)
